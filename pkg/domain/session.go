package domain

import "time"

// KernelStatus is the coarse connection state of a kernel session.
type KernelStatus string

const (
	KernelIdle         KernelStatus = "idle"
	KernelBusy         KernelStatus = "busy"
	KernelDisconnected KernelStatus = "disconnected"
)

// SessionRecord is the persisted trace of one kernel session: which
// environment it ran on, its current status and every cell it executed.
type SessionRecord struct {
	ID          string       `json:"id"`
	Environment Environment  `json:"environment"`
	StartedAt   time.Time    `json:"started_at"`
	Status      KernelStatus `json:"status"`

	// Restarts counts kernel restarts over the session lifetime.
	Restarts int `json:"restarts,omitempty"`

	// Cells are appended in submission order.
	Cells []Cell `json:"cells,omitempty"`
}

// NewSessionRecord creates a record for a freshly connected session.
func NewSessionRecord(id string, env Environment) *SessionRecord {
	return &SessionRecord{
		ID:          id,
		Environment: env,
		StartedAt:   time.Now().UTC(),
		Status:      KernelIdle,
	}
}

// Clone returns a deep copy of the record.
func (r *SessionRecord) Clone() *SessionRecord {
	cp := *r
	if r.Cells != nil {
		cp.Cells = make([]Cell, len(r.Cells))
		for i := range r.Cells {
			cp.Cells[i] = *r.Cells[i].Clone()
		}
	}
	return &cp
}
