package history

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEvent is returned for events that cannot be dispatched.
var ErrInvalidEvent = errors.New("invalid event")

// EventType names a host event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStepStarted  EventType = "step_started"
	EventRunCompleted EventType = "run_completed"
	EventRunDeleted   EventType = "run_deleted"
	EventJobDeleted   EventType = "job_deleted"
	EventJobRenamed   EventType = "job_renamed"
	EventNodeDeleted  EventType = "node_deleted"
	EventNodeRenamed  EventType = "node_renamed"
)

// Event is a host notification as received over the API or CLI.
type Event struct {
	Type    EventType `json:"type" yaml:"type"`
	Node    string    `json:"node,omitempty" yaml:"node,omitempty"`
	Job     string    `json:"job,omitempty" yaml:"job,omitempty"`
	Build   int       `json:"build,omitempty" yaml:"build,omitempty"`
	StepID  string    `json:"step_id,omitempty" yaml:"step_id,omitempty"`
	OldName string    `json:"old_name,omitempty" yaml:"old_name,omitempty"`
	NewName string    `json:"new_name,omitempty" yaml:"new_name,omitempty"`
}

// Validate checks that the fields the event type needs are present.
func (ev Event) Validate() error {
	var missing []string
	need := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	needRun := func() {
		need("job", ev.Job)
		if ev.Build <= 0 {
			missing = append(missing, "build")
		}
	}

	switch ev.Type {
	case EventRunStarted:
		need("node", ev.Node)
		needRun()
	case EventStepStarted:
		need("node", ev.Node)
		needRun()
		need("step_id", ev.StepID)
	case EventRunCompleted, EventRunDeleted:
		needRun()
	case EventJobDeleted:
		need("job", ev.Job)
	case EventNodeDeleted:
		need("node", ev.Node)
	case EventJobRenamed, EventNodeRenamed:
		need("old_name", ev.OldName)
		need("new_name", ev.NewName)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidEvent, ev.Type, strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch routes an event to its hook. Run events look the run up in the
// host mirror first.
func (s *Service) Dispatch(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Type {
	case EventJobDeleted:
		return s.OnJobDeleted(ev.Job)
	case EventJobRenamed:
		return s.OnJobRenamed(ev.OldName, ev.NewName)
	case EventNodeDeleted:
		return s.OnNodeDeleted(ev.Node)
	case EventNodeRenamed:
		return s.OnNodeRenamed(ev.OldName, ev.NewName)
	}

	run, err := s.host.GetRun(ev.Job, ev.Build)
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Type, err)
	}
	switch ev.Type {
	case EventRunStarted:
		return s.OnRunStartedOnNode(ev.Node, run)
	case EventStepStarted:
		return s.OnRunStepStartedOnNode(ev.Node, run, ev.StepID)
	case EventRunCompleted:
		return s.OnRunCompleted(run)
	default:
		return s.OnRunDeleted(run)
	}
}
