package scoring

import (
	"fmt"
	"time"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

const (
	VisionModelVersion = "YOLO-ONNX-v1.0"
	WifiModelVersion   = "WiFi-CSI-AI-v1.0"
)

type Score struct {
	StatusScore           float64
	EnvironmentMultiplier float64
	Hazard                model.HazardTier
	Posture               model.Posture
	Confidence            float64
}

func (s Score) Final() float64 {
	return s.StatusScore * s.EnvironmentMultiplier
}

func UrgencyFor(score float64) model.UrgencyTier {
	switch {
	case score >= 8.0:
		return model.UrgencyCritical
	case score >= 6.0:
		return model.UrgencyHigh
	case score >= 4.0:
		return model.UrgencyMedium
	default:
		return model.UrgencyLow
	}
}

// Calculator combines the posture score and the environment multiplier for one subject.
// It holds no mutable state; identical inputs always produce identical scores.
type Calculator struct {
	env      *Evaluator
	wifiBase Score
}

func NewCalculator(cfg config.ScoringConfig) *Calculator {
	return &Calculator{
		env: NewEvaluator(ThresholdsFromConfig(cfg)),
		wifiBase: Score{
			StatusScore:           cfg.WifiStatusScore,
			EnvironmentMultiplier: cfg.WifiEnvironmentMultiplier,
			Hazard:                model.HazardNoFire,
			Posture:               model.PostureStanding,
			Confidence:            1.0,
		},
	}
}

func (c *Calculator) Score(subject model.DetectionObject, all []model.DetectionObject, summary model.DetectionSummary) Score {
	posture := PostureFromLabel(subject.Pose)
	hazard := c.env.Evaluate(subject.Box, all, summary)
	return Score{
		StatusScore:           PostureScore(posture),
		EnvironmentMultiplier: Multiplier(hazard),
		Hazard:                hazard,
		Posture:               posture,
		Confidence:            confidenceOf(subject.Confidence),
	}
}

// WifiScore carries no posture or fire information, only the configured defaults.
func (c *Calculator) WifiScore(msg model.WifiMessage) Score {
	s := c.wifiBase
	s.Confidence = confidenceOf(msg.Confidence)
	return s
}

func confidenceOf(c *float64) float64 {
	if c == nil {
		return 1.0
	}
	return *c
}

// NewAssessment is the only constructor for assessments, so the final score and tier
// can never drift from the pair that produced them.
func NewAssessment(identityID, observationID int64, s Score, at time.Time, modelVersion, notes string) model.Assessment {
	final := s.Final()
	return model.Assessment{
		IdentityID:            identityID,
		ObservationID:         observationID,
		AssessedAt:            at,
		StatusScore:           s.StatusScore,
		EnvironmentMultiplier: s.EnvironmentMultiplier,
		Hazard:                s.Hazard,
		ConfidenceCoefficient: s.Confidence,
		FinalRiskScore:        final,
		Urgency:               UrgencyFor(final),
		Formula:               Formula(s),
		ModelVersion:          modelVersion,
		Notes:                 notes,
	}
}

func Formula(s Score) string {
	return fmt.Sprintf("status(%.1f) x environment(%.1f) = %.2f (confidence %.2f)",
		s.StatusScore, s.EnvironmentMultiplier, s.Final(), s.Confidence)
}

func VisionNotes(pose string, summary model.DetectionSummary) string {
	if pose == "" {
		pose = "none"
	}
	return fmt.Sprintf("pose=%s fire=%d smoke=%d", pose, summary.FireCount, summary.SmokeCount)
}
