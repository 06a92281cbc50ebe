package ingest

import (
	"context"
	"log/slog"
	"time"

	"rescuefusion/internal/fusion"
	"rescuefusion/internal/model"
)

// FrameProcessor handles one vision frame synchronously.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, f model.VisionFrame) (fusion.FrameResult, error)
}

// WifiSubmitter buffers one WiFi message for coalesced processing.
type WifiSubmitter interface {
	Submit(msg model.WifiMessage) error
}

// DropCounter is told about frames dropped because the queue was full.
type DropCounter interface {
	Add(delta int64) int64
}

func SendNonBlocking(ctx context.Context, out chan<- model.VisionFrame, f model.VisionFrame, dropped DropCounter, logger *slog.Logger) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	default:
		if dropped != nil {
			dropped.Add(1)
		}
		if logger != nil {
			logger.Warn("frame queue full, dropping frame", "camera_id", f.CameraID, "location_id", f.LocationID, "frame_id", f.FrameID)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// submitWifi decodes and submits one WiFi payload. fallbackSensor is used when the
// payload omits sensor_id, e.g. when it is carried in the MQTT topic.
func submitWifi(sub WifiSubmitter, data []byte, fallbackSensor int64, source string, logger *slog.Logger) error {
	msg, err := DecodeWifi(data)
	if err != nil {
		if logger != nil {
			logger.Warn("wifi decode error", "source", source, "error", err)
		}
		return err
	}
	if msg.SensorID == 0 {
		msg.SensorID = fallbackSensor
	}
	msg.ReceivedAt = time.Now().UTC()
	if err := sub.Submit(msg); err != nil {
		if logger != nil {
			logger.Warn("wifi message rejected", "source", source, "sensor_id", msg.SensorID, "error", err)
		}
		return err
	}
	return nil
}
