package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/model"
)

const (
	ClassHuman = "human"
	ClassFire  = "fire"
	ClassSmoke = "smoke"
)

// ClassName folds detector labels onto the canonical classes. Unknown labels are
// returned lowercased and trimmed.
func ClassName(label string) string {
	n := strings.ToLower(strings.TrimSpace(label))
	switch n {
	case "human", "person", "people":
		return ClassHuman
	case "fire", "flame", "flames":
		return ClassFire
	case "smoke":
		return ClassSmoke
	}
	return n
}

func IsHuman(label string) bool { return ClassName(label) == ClassHuman }

// Frame checks an inbound vision frame. Any malformed detection rejects the whole
// frame. A human without a box is accepted here and reported per subject later.
func Frame(f model.VisionFrame) error {
	if f.CameraID <= 0 {
		return model.Validationf("camera id %d is not valid", f.CameraID)
	}
	if f.LocationID <= 0 {
		return model.Validationf("location id %d is not valid", f.LocationID)
	}
	for i, d := range f.Result.Detections {
		if strings.TrimSpace(d.ClassName) == "" {
			return model.Validationf("detection %d has no className", i)
		}
		if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
			return model.Validationf("detection %d confidence %v outside [0,1]", i, *d.Confidence)
		}
		if d.Box != nil && !d.Box.Valid() {
			return model.Validationf("detection %d box %+v must satisfy x1<x2 and y1<y2", i, *d.Box)
		}
	}
	if s := f.Result.Summary; s != nil {
		if s.FireCount < 0 || s.HumanCount < 0 || s.SmokeCount < 0 || s.TotalObjects < 0 {
			return model.Validationf("summary counts must not be negative")
		}
	}
	return nil
}

// Summary returns the frame summary, treating an absent one as all zero counts.
func Summary(r model.DetectionResult) model.DetectionSummary {
	if r.Summary == nil {
		return model.DetectionSummary{}
	}
	return *r.Summary
}

func Wifi(msg model.WifiMessage) error {
	if msg.SensorID <= 0 {
		return model.Validationf("sensor_id %d is not valid", msg.SensorID)
	}
	if msg.Confidence != nil && (*msg.Confidence < 0 || *msg.Confidence > 1) {
		return model.Validationf("confidence %v outside [0,1]", *msg.Confidence)
	}
	return nil
}

// RescueStatus parses operator input such as "in-rescue" or "Rescued".
func RescueStatus(value string) (model.RescueStatus, error) {
	n := strings.ToUpper(strings.TrimSpace(value))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	switch n {
	case "CANCELLED":
		n = string(model.RescueCanceled)
	case "RESCUING":
		n = string(model.RescueInRescue)
	}
	s := model.RescueStatus(n)
	if !s.Valid() {
		return "", model.Validationf("unknown rescue status %q", value)
	}
	return s, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339, common local layouts and unix seconds or
// milliseconds. Layouts without a zone are read in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, model.Validationf("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.Validationf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "parse unix timestamp")
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
