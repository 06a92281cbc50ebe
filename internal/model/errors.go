package model

import "github.com/rotisserie/eris"

var (
	// ErrValidation marks a malformed inbound message; the message is rejected whole.
	ErrValidation = eris.New("validation failed")
	// ErrReferenceNotFound marks an unknown location, device or identity id.
	ErrReferenceNotFound = eris.New("reference not found")
	// ErrGeometryParse marks a stored observation payload that no longer yields a bounding box.
	ErrGeometryParse = eris.New("geometry parse failed")
	// ErrSink marks a persistence or broadcast failure after the computation succeeded.
	ErrSink = eris.New("sink write failed")
)

func Validationf(format string, args ...any) error {
	return eris.Wrapf(ErrValidation, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return eris.Wrapf(ErrReferenceNotFound, format, args...)
}

// SinkError wraps a collaborator failure so callers can match it with eris.Is(err, ErrSink).
func SinkError(err error, op string) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(ErrSink, "%s: %v", op, err)
}

// Validate checks that exactly one device reference is set and that it agrees with the method.
func (o Observation) Validate() error {
	if o.IdentityID <= 0 {
		return Validationf("observation without identity")
	}
	hasCamera := o.CameraID != nil
	hasSensor := o.SensorID != nil
	if hasCamera == hasSensor {
		return Validationf("observation for identity %d must reference exactly one device", o.IdentityID)
	}
	switch o.Method {
	case MethodCCTV:
		if !hasCamera {
			return Validationf("cctv observation for identity %d has no camera", o.IdentityID)
		}
	case MethodWifi:
		if !hasSensor {
			return Validationf("wifi observation for identity %d has no sensor", o.IdentityID)
		}
	default:
		return Validationf("unknown detection method %q", o.Method)
	}
	return nil
}
