package scoring

import (
	"math"
	"strings"
	"testing"
	"time"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

func testCalculator() *Calculator {
	return NewCalculator(config.DefaultConfig().Scoring)
}

func human(pose string, b model.BoundingBox) model.DetectionObject {
	return model.DetectionObject{ClassName: "human", Pose: pose, Box: &b}
}

func object(class string, x1, y1, x2, y2 int) model.DetectionObject {
	return model.DetectionObject{ClassName: class, Box: &model.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}

func conf(v float64) *float64 { return &v }

func TestStatusScoreTotal(t *testing.T) {
	cases := map[string]float64{
		"Falling":  10.0,
		"fall":     10.0,
		"FALLEN":   10.0,
		"lying":    10.0,
		"Crawling": 8.0,
		"sitting":  5.0,
		"Standing": 3.0,
		"":         3.0,
		"jumping":  3.0,
	}
	for label, want := range cases {
		if got := StatusScore(label); got != want {
			t.Fatalf("StatusScore(%q) = %v, want %v", label, got, want)
		}
	}
	if PostureFromLabel("somersault") != model.PostureStanding {
		t.Fatalf("unknown label should fold to standing")
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	ev := NewEvaluator(DefaultThresholds())
	subject := &model.BoundingBox{X1: 1000, Y1: 500, X2: 1200, Y2: 900}

	cases := []struct {
		name       string
		detections []model.DetectionObject
		summary    model.DetectionSummary
		want       model.HazardTier
	}{
		{
			name: "direct contact beats spreading fire",
			detections: []model.DetectionObject{
				object("fire", 0, 0, 1920, 400),
				object("fire", 1000, 500, 1200, 700),
			},
			want: model.HazardDirectFire,
		},
		{
			name: "dense smoke beats spreading fire",
			detections: []model.DetectionObject{
				object("smoke", 0, 0, 1920, 560),
				object("fire", 0, 600, 1920, 1080),
			},
			want: model.HazardDenseSmoke,
		},
		{
			name:       "spreading fire",
			detections: []model.DetectionObject{object("fire", 0, 0, 1920, 400)},
			want:       model.HazardSpreadingFire,
		},
		{
			name:       "local fire at ten percent",
			detections: []model.DetectionObject{object("fire", 0, 0, 480, 432)},
			want:       model.HazardLocalFire,
		},
		{
			name:       "local fire at lower bound",
			detections: []model.DetectionObject{object("fire", 0, 0, 1920, 54)},
			want:       model.HazardLocalFire,
		},
		{
			name:       "contained fire",
			detections: []model.DetectionObject{object("Fire", 0, 0, 100, 100)},
			want:       model.HazardContainedFire,
		},
		{
			name:    "summary count without boxes",
			summary: model.DetectionSummary{FireCount: 1},
			want:    model.HazardLocalFire,
		},
		{
			name:       "fire labels without area",
			detections: []model.DetectionObject{{ClassName: "fire"}},
			want:       model.HazardLocalFire,
		},
		{
			name:       "flame synonym on subject",
			detections: []model.DetectionObject{object("Flames", 1000, 500, 1200, 900)},
			want:       model.HazardDirectFire,
		},
		{
			name:       "smoke only below threshold",
			detections: []model.DetectionObject{object("smoke", 0, 0, 500, 500)},
			want:       model.HazardNoFire,
		},
		{
			name: "nothing",
			want: model.HazardNoFire,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ev.Evaluate(subject, tc.detections, tc.summary); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEvaluateWithoutSubjectBox(t *testing.T) {
	ev := NewEvaluator(DefaultThresholds())
	got := ev.Evaluate(nil, []model.DetectionObject{object("fire", 0, 0, 480, 432)}, model.DetectionSummary{})
	if got != model.HazardLocalFire {
		t.Fatalf("expected local fire without subject box, got %s", got)
	}
}

func TestMultiplierIsOneOfSix(t *testing.T) {
	allowed := map[float64]bool{3.0: true, 2.0: true, 1.5: true, 1.0: true, 0.5: true, 0.1: true}
	tiers := []model.HazardTier{
		model.HazardDirectFire, model.HazardDenseSmoke, model.HazardSpreadingFire,
		model.HazardLocalFire, model.HazardContainedFire, model.HazardNoFire, "unknown",
	}
	for _, tier := range tiers {
		if !allowed[Multiplier(tier)] {
			t.Fatalf("multiplier for %s not in fixed set: %v", tier, Multiplier(tier))
		}
	}
}

func TestUrgencyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  model.UrgencyTier
	}{
		{8.0, model.UrgencyCritical},
		{7.999, model.UrgencyHigh},
		{6.0, model.UrgencyHigh},
		{5.999, model.UrgencyMedium},
		{4.0, model.UrgencyMedium},
		{3.999, model.UrgencyLow},
		{0, model.UrgencyLow},
	}
	for _, tc := range cases {
		if got := UrgencyFor(tc.score); got != tc.want {
			t.Fatalf("UrgencyFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestFallingSubjectNearLocalFire(t *testing.T) {
	calc := testCalculator()
	subject := human("Falling", model.BoundingBox{X1: 1000, Y1: 500, X2: 1200, Y2: 900})
	fire := object("fire", 0, 0, 480, 432)
	summary := model.DetectionSummary{FireCount: 1, HumanCount: 1, TotalObjects: 2}

	s := calc.Score(subject, []model.DetectionObject{subject, fire}, summary)
	a := NewAssessment(1, 2, s, time.Now(), VisionModelVersion, VisionNotes(subject.Pose, summary))

	if a.StatusScore != 10.0 || a.EnvironmentMultiplier != 1.0 {
		t.Fatalf("unexpected pair (%v, %v)", a.StatusScore, a.EnvironmentMultiplier)
	}
	if a.FinalRiskScore != 10.0 || a.Urgency != model.UrgencyCritical {
		t.Fatalf("expected 10.0 CRITICAL, got %v %s", a.FinalRiskScore, a.Urgency)
	}
	if a.ConfidenceCoefficient != 1.0 {
		t.Fatalf("missing confidence should default to 1.0, got %v", a.ConfidenceCoefficient)
	}
	if !strings.Contains(a.Formula, "= 10.00") {
		t.Fatalf("unexpected formula %q", a.Formula)
	}
}

func TestFallingSubjectWithSummaryOnlyFire(t *testing.T) {
	calc := testCalculator()
	subject := human("Falling", model.BoundingBox{X1: 1000, Y1: 500, X2: 1200, Y2: 900})
	summary := model.DetectionSummary{FireCount: 2, HumanCount: 1, TotalObjects: 3}

	s := calc.Score(subject, []model.DetectionObject{subject}, summary)
	a := NewAssessment(1, 2, s, time.Now(), VisionModelVersion, "")
	if a.Hazard != model.HazardLocalFire || a.EnvironmentMultiplier != 1.0 {
		t.Fatalf("expected local fire at 1.0, got %s %v", a.Hazard, a.EnvironmentMultiplier)
	}
	if a.FinalRiskScore != 10.0 || a.Urgency != model.UrgencyCritical {
		t.Fatalf("expected 10.0 CRITICAL, got %v %s", a.FinalRiskScore, a.Urgency)
	}
}

func TestFlameSynonymsCountAsFireArea(t *testing.T) {
	ev := NewEvaluator(DefaultThresholds())
	subject := &model.BoundingBox{X1: 1700, Y1: 800, X2: 1800, Y2: 1000}
	// neither box reaches the spreading ratio alone
	dets := []model.DetectionObject{object("flame", 0, 0, 1920, 200), object("FLAMES", 0, 200, 1920, 400)}
	if got := ev.Evaluate(subject, dets, model.DetectionSummary{}); got != model.HazardSpreadingFire {
		t.Fatalf("expected spreading fire, got %s", got)
	}
}

func TestStandingSubjectWithoutHazards(t *testing.T) {
	calc := testCalculator()
	subject := human("Standing", model.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 310})
	subject.Confidence = conf(0.82)

	s := calc.Score(subject, []model.DetectionObject{subject}, model.DetectionSummary{})
	a := NewAssessment(1, 2, s, time.Now(), VisionModelVersion, "")

	if a.StatusScore != 3.0 || a.EnvironmentMultiplier != 0.1 {
		t.Fatalf("unexpected pair (%v, %v)", a.StatusScore, a.EnvironmentMultiplier)
	}
	if math.Abs(a.FinalRiskScore-0.3) > 1e-9 || a.Urgency != model.UrgencyLow {
		t.Fatalf("expected 0.3 LOW, got %v %s", a.FinalRiskScore, a.Urgency)
	}
	if a.ConfidenceCoefficient != 0.82 {
		t.Fatalf("confidence should pass through, got %v", a.ConfidenceCoefficient)
	}
}

func TestFinalIsProductForAllPairs(t *testing.T) {
	calc := testCalculator()
	poses := []string{"falling", "crawling", "sitting", "standing", ""}
	frames := [][]model.DetectionObject{
		nil,
		{object("fire", 0, 0, 100, 100)},
		{object("fire", 0, 0, 480, 432)},
		{object("fire", 0, 0, 1920, 400)},
		{object("smoke", 0, 0, 1920, 600)},
		{object("fire", 20, 20, 120, 320)},
	}
	for _, pose := range poses {
		for _, frame := range frames {
			subject := human(pose, model.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 310})
			s := calc.Score(subject, frame, model.DetectionSummary{})
			a := NewAssessment(1, 1, s, time.Time{}, VisionModelVersion, "")
			if a.FinalRiskScore != a.StatusScore*a.EnvironmentMultiplier {
				t.Fatalf("final %v != %v * %v", a.FinalRiskScore, a.StatusScore, a.EnvironmentMultiplier)
			}
			if a.Urgency != UrgencyFor(a.FinalRiskScore) {
				t.Fatalf("urgency %s does not follow score %v", a.Urgency, a.FinalRiskScore)
			}
			again := calc.Score(subject, frame, model.DetectionSummary{})
			if again != s {
				t.Fatalf("score is not reproducible: %+v vs %+v", s, again)
			}
		}
	}
}

func TestWifiScoreDefaults(t *testing.T) {
	calc := testCalculator()
	s := calc.WifiScore(model.WifiMessage{SensorID: 3, SurvivorDetected: true})
	if s.StatusScore != 3.0 || s.EnvironmentMultiplier != 0.1 || s.Confidence != 1.0 {
		t.Fatalf("unexpected wifi defaults %+v", s)
	}
	s = calc.WifiScore(model.WifiMessage{SensorID: 3, Confidence: conf(0.4)})
	if s.Confidence != 0.4 {
		t.Fatalf("wifi confidence should pass through, got %v", s.Confidence)
	}
}
