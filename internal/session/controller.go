package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"

	"github.com/pdftools/backend/internal/models"
)

// ErrInvalidTransition is returned for an event the current section does not accept.
var ErrInvalidTransition = errors.New("invalid section transition")

// Section events.
const (
	EventAccept   statekit.EventType = "ACCEPT"
	EventCompress statekit.EventType = "COMPRESS"
	EventCancel   statekit.EventType = "CANCEL"
	EventSucceed  statekit.EventType = "SUCCEED"
	EventFail     statekit.EventType = "FAIL"
	EventReset    statekit.EventType = "RESET"
)

var (
	stateUpload     = statekit.StateID(models.PhaseUpload)
	statePreview    = statekit.StateID(models.PhasePreview)
	stateProcessing = statekit.StateID(models.PhaseProcessing)
	stateResults    = statekit.StateID(models.PhaseResults)
	stateError      = statekit.StateID(models.PhaseError)
)

// transitions mirrors the machine definition. statekit panics on events a
// state does not declare, so every Send is checked against this table first.
var transitions = map[models.Phase]map[statekit.EventType]models.Phase{
	models.PhaseUpload: {
		EventAccept: models.PhasePreview,
	},
	models.PhasePreview: {
		EventCompress: models.PhaseProcessing,
		EventCancel:   models.PhaseUpload,
	},
	models.PhaseProcessing: {
		EventSucceed: models.PhaseResults,
		EventFail:    models.PhaseError,
	},
	models.PhaseResults: {
		EventReset: models.PhaseUpload,
	},
	models.PhaseError: {
		EventReset: models.PhaseUpload,
	},
}

// sections is the machine context: which section is shown and whether the
// client should scroll back to the top.
type sections struct {
	visible     map[models.Phase]bool
	scrollToTop bool
}

func newSections() *sections {
	s := &sections{visible: make(map[models.Phase]bool, len(models.AllPhases))}
	for _, p := range models.AllPhases {
		s.visible[p] = false
	}
	return s
}

// showSection returns the entry action for phase. Every section is hidden
// before the entered one is shown.
func showSection(phase models.Phase, scroll bool) func(**sections, statekit.Event) {
	return func(ctx **sections, _ statekit.Event) {
		if ctx == nil || *ctx == nil {
			return
		}
		s := *ctx
		for _, p := range models.AllPhases {
			s.visible[p] = false
		}
		s.visible[phase] = true
		s.scrollToTop = scroll
	}
}

func newSectionMachine() (*statekit.MachineConfig[*sections], error) {
	return statekit.NewMachine[*sections]("sections").
		WithInitial(stateUpload).
		WithContext(newSections()).
		WithAction("showUpload", showSection(models.PhaseUpload, false)).
		WithAction("showPreview", showSection(models.PhasePreview, false)).
		WithAction("showProcessing", showSection(models.PhaseProcessing, false)).
		WithAction("showResults", showSection(models.PhaseResults, true)).
		WithAction("showError", showSection(models.PhaseError, true)).
		State(stateUpload).
			OnEntry("showUpload").
			On(EventAccept).Target(statePreview).
			Done().
		State(statePreview).
			OnEntry("showPreview").
			On(EventCompress).Target(stateProcessing).
			On(EventCancel).Target(stateUpload).
			Done().
		State(stateProcessing).
			OnEntry("showProcessing").
			On(EventSucceed).Target(stateResults).
			On(EventFail).Target(stateError).
			Done().
		State(stateResults).
			OnEntry("showResults").
			On(EventReset).Target(stateUpload).
			Done().
		State(stateError).
			OnEntry("showError").
			On(EventReset).Target(stateUpload).
			Done().
		Build()
}

// Controller drives the mutually exclusive sections of one session.
type Controller struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[*sections]
	ctx    *sections
}

// NewController builds a controller resting in the upload section.
func NewController() (*Controller, error) {
	machine, err := newSectionMachine()
	if err != nil {
		return nil, fmt.Errorf("building section machine: %w", err)
	}

	ctx := newSections()
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **sections) {
		*c = ctx
	})
	interp.Start()

	return &Controller{interp: interp, ctx: ctx}, nil
}

// Phase returns the active section.
func (c *Controller) Phase() models.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase()
}

func (c *Controller) phase() models.Phase {
	return models.Phase(c.interp.State().Value)
}

// Can reports whether ev is accepted in the active section.
func (c *Controller) Can(ev statekit.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := transitions[c.phase()][ev]
	return ok
}

// Send applies ev and returns the new section. Events the active section
// does not accept leave it unchanged.
func (c *Controller) Send(ev statekit.EventType) (models.Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.phase()
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
	}

	c.interp.Send(statekit.Event{Type: ev})

	if got := c.phase(); got != to {
		return got, fmt.Errorf("%w: %s from %s landed in %s", ErrInvalidTransition, ev, from, got)
	}
	return to, nil
}

// Visible returns the shown sections in display order. There is always
// exactly one.
func (c *Controller) Visible() []models.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Phase
	for _, p := range models.AllPhases {
		if c.ctx.visible[p] {
			out = append(out, p)
		}
	}
	return out
}

// Sections returns a copy of the visibility map.
func (c *Controller) Sections() map[models.Phase]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[models.Phase]bool, len(c.ctx.visible))
	for p, v := range c.ctx.visible {
		out[p] = v
	}
	return out
}

// ScrollToTop reports whether the last transition asked the client to
// scroll to the top of the page.
func (c *Controller) ScrollToTop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx.scrollToTop
}

// Stop halts the interpreter.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interp.Stop()
}
