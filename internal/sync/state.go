package sync

// State is the engine's lifecycle state. Exactly one holds at a time.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCancelling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// busy reports whether a session occupies the engine.
func (s State) busy() bool {
	return s == StateActive || s == StateCancelling
}

// Statistics is a point-in-time snapshot of an engine.
type Statistics struct {
	Collection string `json:"collection"`

	// OriginalCandidates is the number of records above the cursor when
	// the session started.
	OriginalCandidates int `json:"original_candidates"`

	// CurrentCandidates is the size of the most recently fetched batch.
	CurrentCandidates int   `json:"current_candidates"`
	TotalUploaded     int   `json:"total_uploaded"`
	LastUploadedID    int64 `json:"last_uploaded_id"`
	IsLastBatch       bool  `json:"is_last_batch"`

	// Progress is the last reported value, clamped to [0,1].
	Progress float64 `json:"progress"`

	// UploadProgress is TotalUploaded/OriginalCandidates, unclamped; 0
	// when nothing was pending.
	UploadProgress   float64 `json:"upload_progress"`
	UploadPercentage int     `json:"upload_percentage"`

	State     State `json:"-"`
	LastError error `json:"-"`
}
