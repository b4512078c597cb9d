package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edp1096/transim/pkg/util"
)

type State int32

const (
	Idle State = iota
	Initializing
	Running
	Paused
	Failed
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Failed:
		return "failed"
	case Completed:
		return "completed"
	}
	return "unknown"
}

var (
	ErrMemoryCeiling = errors.New("waveform memory ceiling exceeded")
	ErrChattering    = errors.New("too many events at one instant")
	ErrNotPaused     = errors.New("simulation is not paused")
)

// Result is what a transient run reports. Failures never escape as panics or
// bare errors; Err keeps the cause for errors.Is checks.
type Result struct {
	Success  bool
	State    State
	LastTime float64
	Steps    int
	Rejected int
	Events   int
	DCTier   Tier
	Message  string
	RunID    uuid.UUID
	Elapsed  time.Duration
	Err      error
}

func (r Result) String() string {
	return fmt.Sprintf("%s at t=%s: %d steps, %d rejected, %d events, dc=%s (%s)",
		r.State, util.FormatTime(r.LastTime), r.Steps, r.Rejected, r.Events, r.DCTier, r.Message)
}
