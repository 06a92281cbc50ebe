package scoring

import (
	"rescuefusion/internal/config"
	"rescuefusion/internal/geometry"
	"rescuefusion/internal/model"
	"rescuefusion/internal/normalize"
)

const (
	classFire  = normalize.ClassFire
	classSmoke = normalize.ClassSmoke
)

type Thresholds struct {
	FrameWidth         int
	FrameHeight        int
	FireContactIoU     float64
	DenseSmokeRatio    float64
	SpreadingFireRatio float64
	LocalFireRatio     float64
	ContainedFireRatio float64
}

func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.DefaultConfig().Scoring)
}

func ThresholdsFromConfig(cfg config.ScoringConfig) Thresholds {
	return Thresholds{
		FrameWidth:         cfg.FrameWidth,
		FrameHeight:        cfg.FrameHeight,
		FireContactIoU:     cfg.FireContactIoU,
		DenseSmokeRatio:    cfg.DenseSmokeRatio,
		SpreadingFireRatio: cfg.SpreadingFireRatio,
		LocalFireRatio:     cfg.LocalFireRatio,
		ContainedFireRatio: cfg.ContainedFireRatio,
	}
}

func (t Thresholds) frameArea() float64 {
	return float64(t.FrameWidth) * float64(t.FrameHeight)
}

var multipliers = map[model.HazardTier]float64{
	model.HazardDirectFire:    3.0,
	model.HazardDenseSmoke:    2.0,
	model.HazardSpreadingFire: 1.5,
	model.HazardLocalFire:     1.0,
	model.HazardContainedFire: 0.5,
	model.HazardNoFire:        0.1,
}

func Multiplier(tier model.HazardTier) float64 {
	if m, ok := multipliers[tier]; ok {
		return m
	}
	return multipliers[model.HazardNoFire]
}

type Evaluator struct {
	th Thresholds
}

func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th}
}

// Evaluate classifies the hazard around one subject. The checks run in a fixed order and the
// first one that holds decides the tier, so direct contact always outranks any area rule.
func (e *Evaluator) Evaluate(subject *model.BoundingBox, detections []model.DetectionObject, summary model.DetectionSummary) model.HazardTier {
	if e.fireContact(subject, detections) {
		return model.HazardDirectFire
	}

	frame := e.th.frameArea()
	var smokeRatio, fireRatio float64
	if frame > 0 {
		smokeRatio = float64(classArea(detections, classSmoke)) / frame
		fireRatio = float64(classArea(detections, classFire)) / frame
	}
	if smokeRatio >= e.th.DenseSmokeRatio {
		return model.HazardDenseSmoke
	}
	if fireRatio >= e.th.SpreadingFireRatio {
		return model.HazardSpreadingFire
	}

	if !firePresent(detections, summary) {
		return model.HazardNoFire
	}
	// fire reported without any measurable box is not known to be small
	if fireRatio > 0 && fireRatio < e.th.ContainedFireRatio {
		return model.HazardContainedFire
	}
	return model.HazardLocalFire
}

func (e *Evaluator) fireContact(subject *model.BoundingBox, detections []model.DetectionObject) bool {
	if subject == nil {
		return false
	}
	for _, d := range detections {
		if !isClass(d.ClassName, classFire) || d.Box == nil {
			continue
		}
		if geometry.IoU(subject, d.Box) > e.th.FireContactIoU {
			return true
		}
	}
	return false
}

func classArea(detections []model.DetectionObject, class string) int {
	total := 0
	for _, d := range detections {
		if isClass(d.ClassName, class) {
			total += geometry.Area(d.Box)
		}
	}
	return total
}

func firePresent(detections []model.DetectionObject, summary model.DetectionSummary) bool {
	if summary.FireCount > 0 {
		return true
	}
	for _, d := range detections {
		if isClass(d.ClassName, classFire) {
			return true
		}
	}
	return false
}

// isClass compares after folding detector synonyms, so "flames" counts as fire.
func isClass(name, class string) bool {
	return normalize.ClassName(name) == class
}
