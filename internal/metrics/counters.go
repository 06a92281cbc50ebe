package metrics

import "sync/atomic"

// Counters are cumulative pipeline totals since process start.
type Counters struct {
	FramesProcessed   atomic.Int64
	FramesRejected    atomic.Int64
	FramesDuplicate   atomic.Int64
	FramesDropped     atomic.Int64
	SubjectsProcessed atomic.Int64
	SubjectErrors     atomic.Int64
	WifiProcessed     atomic.Int64
	WifiRejected      atomic.Int64
	IdentitiesCreated atomic.Int64
	SinkFailures      atomic.Int64
	AlertsRaised      atomic.Int64
	Archived          atomic.Int64
}

type Snapshot struct {
	FramesProcessed   int64 `json:"frames_processed"`
	FramesRejected    int64 `json:"frames_rejected"`
	FramesDuplicate   int64 `json:"frames_duplicate"`
	FramesDropped     int64 `json:"frames_dropped"`
	SubjectsProcessed int64 `json:"subjects_processed"`
	SubjectErrors     int64 `json:"subject_errors"`
	WifiProcessed     int64 `json:"wifi_processed"`
	WifiRejected      int64 `json:"wifi_rejected"`
	IdentitiesCreated int64 `json:"identities_created"`
	SinkFailures      int64 `json:"sink_failures"`
	AlertsRaised      int64 `json:"alerts_raised"`
	Archived          int64 `json:"archived"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesProcessed:   c.FramesProcessed.Load(),
		FramesRejected:    c.FramesRejected.Load(),
		FramesDuplicate:   c.FramesDuplicate.Load(),
		FramesDropped:     c.FramesDropped.Load(),
		SubjectsProcessed: c.SubjectsProcessed.Load(),
		SubjectErrors:     c.SubjectErrors.Load(),
		WifiProcessed:     c.WifiProcessed.Load(),
		WifiRejected:      c.WifiRejected.Load(),
		IdentitiesCreated: c.IdentitiesCreated.Load(),
		SinkFailures:      c.SinkFailures.Load(),
		AlertsRaised:      c.AlertsRaised.Load(),
		Archived:          c.Archived.Load(),
	}
}
