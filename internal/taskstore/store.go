package taskstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// TaskExt is the extension every task archive carries.
const TaskExt = ".zip"

// ResultPrefix is prepended to a task name to form its result name.
const ResultPrefix = "result_"

var (
	// ErrTaskNotFound is returned when a task is not in the area an operation expects.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidName is returned for names that are empty, contain path
	// separators, or do not carry TaskExt where one is required.
	ErrInvalidName = errors.New("invalid task name")
)

// State is the lifecycle position of a task.
type State int

const (
	StateUnknown State = iota
	StatePending
	StateInFlight
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Store is the backing store for the task queue.
// All implementations must be safe for concurrent use.
type Store interface {
	// Pending lists task names awaiting assignment in lexicographic order.
	Pending() ([]string, error)

	// Claim moves a pending task to in-flight.
	// Returns ErrTaskNotFound if the task is not pending.
	Claim(name string) error

	// Read returns the archive of an in-flight task.
	Read(name string) ([]byte, error)

	// Complete removes the in-flight entry for name and reports whether one existed.
	Complete(name string) (bool, error)

	// PutResult records a result for name, overwriting any earlier one.
	PutResult(name string, data []byte) error

	// Result returns the recorded result for name.
	Result(name string) ([]byte, error)

	// Results lists the names of recorded results.
	Results() ([]string, error)

	// Add places an archive in the pending area.
	Add(name string, data []byte) error

	// State reports where name currently lives.
	State(name string) (State, error)

	// Stats counts entries per area.
	Stats() (Stats, error)
}

// Stats contains entry counts for each area of a store.
type Stats struct {
	Pending  int `yaml:"pending" json:"pending"`
	InFlight int `yaml:"in_flight" json:"in_flight"`
	Results  int `yaml:"results" json:"results"`
}

// ResultName derives the name a task's result is stored under.
func ResultName(task string) string {
	return ResultPrefix + task
}

// ValidateName rejects names that could address anything outside a single
// area directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// IsTaskName reports whether name is a visible task archive name.
func IsTaskName(name string) bool {
	return strings.HasSuffix(name, TaskExt) && !strings.HasPrefix(name, ".")
}

func validateTaskName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !IsTaskName(name) {
		return fmt.Errorf("%w: %q must end in %s", ErrInvalidName, name, TaskExt)
	}
	return nil
}
