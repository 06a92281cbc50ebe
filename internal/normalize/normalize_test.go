package normalize

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuefusion/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestClassNameFolding(t *testing.T) {
	for _, label := range []string{"human", "Person", " PEOPLE "} {
		assert.True(t, IsHuman(label), label)
	}
	assert.False(t, IsHuman("fire"))
	assert.Equal(t, ClassFire, ClassName("Flame"))
	assert.Equal(t, "dog", ClassName(" Dog"))
}

func TestFrameValidation(t *testing.T) {
	good := model.VisionFrame{
		CameraID:   1,
		LocationID: 2,
		Result: model.DetectionResult{Detections: []model.DetectionObject{
			{ClassName: "human", Confidence: ptr(0.9), Box: &model.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
			{ClassName: "human"},
		}},
	}
	require.NoError(t, Frame(good))

	cases := map[string]func(f *model.VisionFrame){
		"no camera":       func(f *model.VisionFrame) { f.CameraID = 0 },
		"no location":     func(f *model.VisionFrame) { f.LocationID = -1 },
		"empty class":     func(f *model.VisionFrame) { f.Result.Detections[0].ClassName = " " },
		"confidence":      func(f *model.VisionFrame) { f.Result.Detections[0].Confidence = ptr(1.2) },
		"degenerate box":  func(f *model.VisionFrame) { f.Result.Detections[0].Box = &model.BoundingBox{X1: 5, Y1: 0, X2: 5, Y2: 10} },
		"negative counts": func(f *model.VisionFrame) { f.Result.Summary = &model.DetectionSummary{FireCount: -1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := good
			f.Result.Detections = append([]model.DetectionObject(nil), good.Result.Detections...)
			mutate(&f)
			err := Frame(f)
			require.Error(t, err)
			assert.True(t, eris.Is(err, model.ErrValidation))
		})
	}
}

func TestSummaryDefaultsToZero(t *testing.T) {
	assert.Equal(t, model.DetectionSummary{}, Summary(model.DetectionResult{}))
	assert.Equal(t, 2, Summary(model.DetectionResult{Summary: &model.DetectionSummary{FireCount: 2}}).FireCount)
}

func TestWifiValidation(t *testing.T) {
	require.NoError(t, Wifi(model.WifiMessage{SensorID: 3}))
	assert.True(t, eris.Is(Wifi(model.WifiMessage{}), model.ErrValidation))
	assert.True(t, eris.Is(Wifi(model.WifiMessage{SensorID: 3, Confidence: ptr(-0.1)}), model.ErrValidation))
}

func TestRescueStatus(t *testing.T) {
	for in, want := range map[string]model.RescueStatus{
		"in-rescue": model.RescueInRescue,
		"Rescued":   model.RescueRescued,
		"cancelled": model.RescueCanceled,
		"WAITING":   model.RescueWaiting,
	} {
		got, err := RescueStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := RescueStatus("lost")
	assert.True(t, eris.Is(err, model.ErrValidation))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-03-01T09:00:00Z", "2026-03-01 09:00:00", "1772355600", "1772355600000"} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), "%s parsed as %s", in, got)
	}
	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}
