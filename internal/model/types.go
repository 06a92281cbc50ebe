package model

import "time"

type Posture string

const (
	PostureFalling  Posture = "FALLING"
	PostureCrawling Posture = "CRAWLING"
	PostureSitting  Posture = "SITTING"
	PostureStanding Posture = "STANDING"
)

type DetectionMethod string

const (
	MethodCCTV DetectionMethod = "CCTV"
	MethodWifi DetectionMethod = "WIFI"
)

type RescueStatus string

const (
	RescueWaiting  RescueStatus = "WAITING"
	RescueInRescue RescueStatus = "IN_RESCUE"
	RescueRescued  RescueStatus = "RESCUED"
	RescueCanceled RescueStatus = "CANCELED"
)

func (s RescueStatus) Valid() bool {
	switch s {
	case RescueWaiting, RescueInRescue, RescueRescued, RescueCanceled:
		return true
	}
	return false
}

// Terminal reports whether the identity leaves the active set once it reaches s.
func (s RescueStatus) Terminal() bool {
	return s == RescueRescued || s == RescueCanceled
}

type UrgencyTier string

const (
	UrgencyCritical UrgencyTier = "CRITICAL"
	UrgencyHigh     UrgencyTier = "HIGH"
	UrgencyMedium   UrgencyTier = "MEDIUM"
	UrgencyLow      UrgencyTier = "LOW"
)

// Rank orders tiers from LOW (1) to CRITICAL (4); unknown tiers rank 0.
func (u UrgencyTier) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

type HazardTier string

const (
	HazardDirectFire    HazardTier = "direct-fire"
	HazardDenseSmoke    HazardTier = "dense-smoke"
	HazardSpreadingFire HazardTier = "spreading-fire"
	HazardLocalFire     HazardTier = "local-fire"
	HazardContainedFire HazardTier = "contained-fire"
	HazardNoFire        HazardTier = "no-fire"
)

type DeviceKind string

const (
	DeviceCamera DeviceKind = "camera"
	DeviceSensor DeviceKind = "sensor"
)

type DeviceRef struct {
	Kind DeviceKind `json:"kind"`
	ID   int64      `json:"id"`
}

func CameraRef(id int64) DeviceRef { return DeviceRef{Kind: DeviceCamera, ID: id} }
func SensorRef(id int64) DeviceRef { return DeviceRef{Kind: DeviceSensor, ID: id} }

type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

type DetectionObject struct {
	ClassName  string       `json:"className"`
	Confidence *float64     `json:"confidence,omitempty"`
	Box        *BoundingBox `json:"box"`
	Pose       string       `json:"pose,omitempty"`
}

type DetectionSummary struct {
	FireCount    int `json:"fireCount"`
	HumanCount   int `json:"humanCount"`
	SmokeCount   int `json:"smokeCount"`
	TotalObjects int `json:"totalObjects"`
}

type DetectionResult struct {
	Detections []DetectionObject  `json:"detections"`
	Summary    *DetectionSummary `json:"summary"`
}

type VisionFrame struct {
	FrameID    string          `json:"frame_id"`
	CameraID   int64           `json:"camera_id"`
	LocationID int64           `json:"location_id"`
	MediaURL   string          `json:"media_url,omitempty"`
	Result     DetectionResult `json:"result"`
	ReceivedAt time.Time       `json:"received_at"`
}

type WifiMessage struct {
	SensorID            int64     `json:"sensor_id"`
	SurvivorDetected    bool      `json:"survivor_detected"`
	CSIAmplitudeSummary []float64 `json:"csi_amplitude_summary,omitempty"`
	Confidence          *float64  `json:"confidence,omitempty"`
	SignalStrength      *int      `json:"signal_strength,omitempty"`
	ReceivedAt          time.Time `json:"received_at"`
}

// Identity is one physical person believed to be continuously present at a location.
type Identity struct {
	ID            int64           `json:"id"`
	Sequence      int             `json:"sequence"`
	LocationID    int64           `json:"location_id"`
	Status        Posture         `json:"status"`
	Method        DetectionMethod `json:"detection_method"`
	RescueStatus  RescueStatus    `json:"rescue_status"`
	FirstSeen     time.Time       `json:"first_seen"`
	LastSeen      time.Time       `json:"last_seen"`
	Active        bool            `json:"active"`
	FalsePositive bool            `json:"false_positive"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Observation struct {
	ID             int64             `json:"id"`
	IdentityID     int64             `json:"identity_id"`
	Method         DetectionMethod   `json:"detection_method"`
	CameraID       *int64            `json:"camera_id,omitempty"`
	SensorID       *int64            `json:"sensor_id,omitempty"`
	LocationID     int64             `json:"location_id"`
	FrameID        string            `json:"frame_id,omitempty"`
	ObservedAt     time.Time         `json:"observed_at"`
	Status         Posture           `json:"status"`
	ClassName      string            `json:"class_name"`
	Confidence     float64           `json:"confidence"`
	Payload        string            `json:"payload"`
	MediaURL       string            `json:"media_url,omitempty"`
	Summary        *DetectionSummary `json:"summary,omitempty"`
	SignalStrength *int              `json:"signal_strength,omitempty"`
}

// Device returns the sensing device the observation came from.
func (o Observation) Device() DeviceRef {
	if o.CameraID != nil {
		return CameraRef(*o.CameraID)
	}
	if o.SensorID != nil {
		return SensorRef(*o.SensorID)
	}
	return DeviceRef{}
}

type Assessment struct {
	ID                    int64       `json:"id"`
	IdentityID            int64       `json:"identity_id"`
	ObservationID         int64       `json:"observation_id"`
	AssessedAt            time.Time   `json:"assessed_at"`
	StatusScore           float64     `json:"status_score"`
	EnvironmentMultiplier float64     `json:"environment_multiplier"`
	Hazard                HazardTier  `json:"hazard"`
	ConfidenceCoefficient float64     `json:"confidence_coefficient"`
	FinalRiskScore        float64     `json:"final_risk_score"`
	Urgency               UrgencyTier `json:"urgency"`
	Formula               string      `json:"formula"`
	ModelVersion          string      `json:"model_version"`
	Notes                 string      `json:"notes,omitempty"`
}

type Location struct {
	ID           int64  `json:"id"`
	BuildingName string `json:"building_name"`
	Floor        int    `json:"floor"`
	Room         string `json:"room"`
	FullAddress  string `json:"full_address,omitempty"`
}

type Camera struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name,omitempty"`
	LocationID int64  `json:"location_id"`
	Active     bool   `json:"active"`
}

type Sensor struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	LocationID     int64     `json:"location_id"`
	Active         bool      `json:"active"`
	LastActiveAt   time.Time `json:"last_active_at,omitempty"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
}

// ArchivedIdentity is the snapshot kept after an inactive identity is deleted.
type ArchivedIdentity struct {
	IdentityID    int64           `json:"identity_id"`
	Sequence      int             `json:"sequence"`
	LocationID    int64           `json:"location_id"`
	LastStatus    Posture         `json:"last_status"`
	Method        DetectionMethod `json:"detection_method"`
	RescueStatus  RescueStatus    `json:"rescue_status"`
	LastSeen      time.Time       `json:"last_seen"`
	LastRiskScore *float64        `json:"last_risk_score,omitempty"`
	ArchivedAt    time.Time       `json:"archived_at"`
}

type TriageAlert struct {
	Timestamp      time.Time   `json:"timestamp"`
	IdentityID     int64       `json:"identity_id"`
	Sequence       int         `json:"sequence"`
	LocationID     int64       `json:"location_id"`
	Status         Posture     `json:"status"`
	Hazard         HazardTier  `json:"hazard"`
	Urgency        UrgencyTier `json:"urgency"`
	FinalRiskScore float64     `json:"final_risk_score"`
	Formula        string      `json:"formula"`
}

type SensorRate struct {
	SensorID     int64   `json:"sensor_id"`
	WindowSec    int     `json:"window_sec"`
	Arrivals     int     `json:"arrivals"`
	Discards     int     `json:"discards"`
	APS          float64 `json:"aps"`
	DiscardRatio float64 `json:"discard_ratio"`
}

type CoalescerStats struct {
	Pending    int   `json:"pending"`
	Accepted   int64 `json:"accepted"`
	Discarded  int64 `json:"discarded"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Flushes    int64 `json:"flushes"`
	Skipped    int64 `json:"skipped"`
}
