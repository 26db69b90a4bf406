package importer

import (
	"fmt"
	"sync"

	"github.com/trezcool/presensi/core"
)

// Step is a position of the import wizard.
type Step int

const (
	StepMasterData Step = iota + 1
	StepSyncUsers
	StepMapping
	StepAttendance
)

const (
	firstStep = StepMasterData
	lastStep  = StepAttendance
)

var Steps = []Step{StepMasterData, StepSyncUsers, StepMapping, StepAttendance}

func (s Step) Valid() bool {
	return s >= firstStep && s <= lastStep
}

func (s Step) String() string {
	switch s {
	case StepMasterData:
		return "master-data"
	case StepSyncUsers:
		return "machine-users"
	case StepMapping:
		return "mapping"
	case StepAttendance:
		return "attendance"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Title is the human label of the step.
func (s Step) Title() string {
	switch s {
	case StepMasterData:
		return "Import master data"
	case StepSyncUsers:
		return "Sync machine users"
	case StepMapping:
		return "Map machine users to students"
	case StepAttendance:
		return "Import attendance"
	default:
		return s.String()
	}
}

// ParseStep accepts a step number or its name.
func ParseStep(s string) (Step, error) {
	for _, st := range Steps {
		if s == st.String() || s == fmt.Sprint(int(st)) {
			return st, nil
		}
	}
	return 0, core.NewValidationError(nil, core.FieldError{Field: "step", Error: fmt.Sprintf("unknown step %q", s)})
}

// Wizard tracks the operator's position in the four import steps.
// It only holds a position: completing or leaving it never touches committed backend data.
type Wizard struct {
	mu        sync.Mutex
	current   Step
	completed int
}

// NewWizard always starts at the first step; positions are not persisted.
func NewWizard() *Wizard {
	return &Wizard{current: firstStep}
}

func (w *Wizard) Current() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Completed counts the runs that went past the last step.
func (w *Wizard) Completed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

// Next advances one step. Past the last step the wizard completes and starts over.
func (w *Wizard) Next() Step {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == lastStep {
		w.current = firstStep
		w.completed++
		return w.current
	}
	w.current++
	return w.current
}

func (w *Wizard) Back() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == firstStep {
		return w.current, core.NewInvalidStateError("back", "wizard", w.current.String(), "already at the first step")
	}
	w.current--
	return w.current, nil
}

// GoTo jumps to a step already reached; jumping ahead is refused without any state change.
func (w *Wizard) GoTo(step Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !step.Valid() || step > w.current {
		return core.NewInvalidStateError("goto "+step.String(), "wizard", w.current.String(), "cannot jump ahead of the current step")
	}
	w.current = step
	return nil
}

// Reset abandons the current run.
func (w *Wizard) Reset() {
	w.mu.Lock()
	w.current = firstStep
	w.mu.Unlock()
}
