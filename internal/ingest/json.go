package ingest

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/model"
)

// KafkaFrame is the message shape on the vision topic.
type KafkaFrame struct {
	CameraID   int64                 `json:"camera_id"`
	LocationID int64                 `json:"location_id"`
	MediaURL   string                `json:"media_url"`
	Result     model.DetectionResult `json:"result"`
}

func DecodeDetectionResult(data []byte) (model.DetectionResult, error) {
	var res model.DetectionResult
	if err := decodeStrict(data, &res); err != nil {
		return model.DetectionResult{}, err
	}
	return res, nil
}

func DecodeKafkaFrame(data []byte) (model.VisionFrame, error) {
	var kf KafkaFrame
	if err := decodeStrict(data, &kf); err != nil {
		return model.VisionFrame{}, err
	}
	return model.VisionFrame{
		CameraID:   kf.CameraID,
		LocationID: kf.LocationID,
		MediaURL:   kf.MediaURL,
		Result:     kf.Result,
	}, nil
}

// DecodeWifi reads a sensor message. Any timestamp in the payload is ignored; the
// receiver stamps ReceivedAt.
func DecodeWifi(data []byte) (model.WifiMessage, error) {
	var msg model.WifiMessage
	if err := decodeStrict(data, &msg); err != nil {
		return model.WifiMessage{}, err
	}
	msg.ReceivedAt = time.Time{}
	return msg, nil
}

func decodeStrict(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.Validationf("empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(model.ErrValidation, "decode json: %v", err)
	}
	return nil
}
