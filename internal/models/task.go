// Package models defines the persisted domain records shared by every
// layer: tasks, task outputs, CCTV streams, and the error taxonomy.
package models

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskState is the lifecycle state of a task. The integer values are the
// wire and persistence format; do not reorder.
type TaskState int

const (
	// TaskStateUndefined is reserved for records present in persistence
	// but unparseable. It is never assigned by a transition.
	TaskStateUndefined TaskState = -1
	// TaskStatePending means the submission was accepted but work has not
	// begun (waiting for the start window, or queued behind the serial lane).
	TaskStatePending TaskState = 0
	// TaskStateStarted means the driver is actively doing work.
	TaskStateStarted TaskState = 1
	// TaskStateCanceled is terminal: a cancel request was observed.
	TaskStateCanceled TaskState = 2
	// TaskStateFinished is terminal: the driver completed successfully.
	TaskStateFinished TaskState = 3
	// TaskStateFailed is terminal: the driver errored, the start window was
	// already past, or the process died with the task in flight.
	TaskStateFailed TaskState = 4
)

func (s TaskState) String() string {
	switch s {
	case TaskStateUndefined:
		return "UNDEFINED"
	case TaskStatePending:
		return "PENDING"
	case TaskStateStarted:
		return "STARTED"
	case TaskStateCanceled:
		return "CANCELED"
	case TaskStateFinished:
		return "FINISHED"
	case TaskStateFailed:
		return "FAILED"
	default:
		return "UNDEFINED"
	}
}

// Valid reports whether s is one of the enumerated states.
func (s TaskState) Valid() bool {
	return s >= TaskStateUndefined && s <= TaskStateFailed
}

// IsTerminal reports whether s permits no further transitions.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCanceled || s == TaskStateFinished || s == TaskStateFailed
}

// CanTransitionTo reports whether s -> next is a permitted edge.
// PENDING may move to STARTED, CANCELED or FAILED; STARTED may move to any
// terminal state. UNDEFINED and the terminal states have no outgoing edges.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	switch s {
	case TaskStatePending:
		return next == TaskStateStarted || next == TaskStateCanceled || next == TaskStateFailed
	case TaskStateStarted:
		return next.IsTerminal()
	default:
		return false
	}
}

// Task is one persisted unit of work. Identity (ID, Name, Params,
// CreatedAt) is immutable after creation; State, Reason and Progress form
// the mutable control block owned by the registry.
type Task struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Params    map[string]string `json:"params"`
	State     TaskState         `json:"state"`
	Reason    string            `json:"reason"`
	Progress  float64           `json:"progress"`
	CreatedAt time.Time         `json:"createdat"`
}

// NewTask creates a PENDING task for the given driver label.
func NewTask(name string, params map[string]string) *Task {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &Task{
		ID:        NewID(),
		Name:      name,
		Params:    p,
		State:     TaskStatePending,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Params = make(map[string]string, len(t.Params))
	for k, v := range t.Params {
		cp.Params[k] = v
	}
	return &cp
}

// NewID returns a lexicographically sortable unique identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Accepted value kinds for parameter schema entries. Primitive tags
// describe literal values; media-type tags name an output kind the
// parameter must reference by name.
const (
	AcceptStr       = "str"
	AcceptFloat     = "float"
	AcceptDatetime  = "datetime"
	AcceptJSON      = "json"
	AcceptVideoMP4  = "video/mp4"
	AcceptDetection = "text/detection"
)

// ParamMeta describes one submission parameter of a driver.
type ParamMeta struct {
	Name     string   `json:"name"`
	Desc     string   `json:"desc"`
	Accept   []string `json:"accept"`
	Optional bool     `json:"optional"`
}
