package tools

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/logging"
)

// ErrShellNotFound is returned for an unknown shell id.
var ErrShellNotFound = errors.New("shell not found")

// ErrNoHistory is returned by Back and Forward at either end of the history.
var ErrNoHistory = errors.New("no history entry in that direction")

// DefaultMaxShells limits concurrently tracked shells.
const DefaultMaxShells = 500

// NavEntry is one tool in the navigation list.
type NavEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Active bool   `json:"active"`
	Loaded bool   `json:"loaded"`
}

// ShellView is the client-facing state of a shell.
type ShellView struct {
	ID         string     `json:"id"`
	Active     string     `json:"active"`
	Anchor     string     `json:"anchor"`
	Title      string     `json:"title"`
	Nav        []NavEntry `json:"nav"`
	Content    Area       `json:"content"`
	CanBack    bool       `json:"canBack"`
	CanForward bool       `json:"canForward"`
}

type shell struct {
	id           string
	active       string
	history      []string
	pos          int
	content      Area
	createdAt    time.Time
	lastAccessed time.Time
}

// Router owns every client shell and switches them between tools.
type Router struct {
	registry *Registry
	loader   *Loader
	tracker  analytics.Tracker
	logger   *bolt.Logger

	mu        sync.Mutex
	shells    map[string]*shell
	maxShells int
}

// NewRouter returns a router over registry. A nil tracker discards events.
func NewRouter(registry *Registry, loader *Loader, tracker analytics.Tracker, logger *bolt.Logger) *Router {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	return &Router{
		registry:  registry,
		loader:    loader,
		tracker:   tracker,
		logger:    logging.OrDefault(logger),
		shells:    make(map[string]*shell),
		maxShells: DefaultMaxShells,
	}
}

// Registry returns the registry the router reads.
func (r *Router) Registry() *Registry {
	return r.registry
}

// CreateShell starts a shell showing the tool named by anchor, or the
// default tool when anchor is empty or unknown.
func (r *Router) CreateShell(ctx context.Context, anchor, userAgent string, screenWidth int) (*ShellView, error) {
	initial := strings.TrimPrefix(anchor, "#")
	if !r.registry.Has(initial) {
		initial = r.registry.Default()
	}

	now := time.Now()
	s := &shell{id: uuid.New().String(), createdAt: now, lastAccessed: now}

	r.tracker.Track(ctx, analytics.EventAppInitialized, analytics.Params{
		"initial_tool": initial,
		"user_agent":   userAgent,
		"screen_width": strconv.Itoa(screenWidth),
	})

	area, err := r.prepare(ctx, initial)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.shells) >= r.maxShells {
		r.evictOldestLocked()
	}
	r.shells[s.id] = s
	r.applyLocked(ctx, s, area, err, true)

	logging.With(r.logger.Debug(), logging.Tool(initial)).Str("shell_id", s.id).Msg("Shell created")
	return r.viewLocked(s), err
}

// Shell returns the current state of a shell and marks it accessed.
func (r *Router) Shell(id string) (*ShellView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shells[id]
	if !ok {
		return nil, ErrShellNotFound
	}
	s.lastAccessed = time.Now()
	return r.viewLocked(s), nil
}

// Switch shows tool in the shell and pushes it onto the history. Entries
// after the current position are dropped. An unknown tool leaves the shell
// untouched. A library failure puts the error panel in the content area and
// keeps the active tool.
func (r *Router) Switch(ctx context.Context, shellID, tool string) (*ShellView, error) {
	if _, err := r.registry.Lookup(tool); err != nil {
		return nil, err
	}
	if !r.exists(shellID) {
		return nil, ErrShellNotFound
	}

	area, err := r.prepare(ctx, tool)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shells[shellID]
	if !ok {
		return nil, ErrShellNotFound
	}
	s.lastAccessed = time.Now()
	r.applyLocked(ctx, s, area, err, true)
	return r.viewLocked(s), err
}

// Back shows the previous tool in the shell's history.
func (r *Router) Back(ctx context.Context, shellID string) (*ShellView, error) {
	return r.step(ctx, shellID, -1)
}

// Forward shows the next tool in the shell's history.
func (r *Router) Forward(ctx context.Context, shellID string) (*ShellView, error) {
	return r.step(ctx, shellID, 1)
}

func (r *Router) step(ctx context.Context, shellID string, delta int) (*ShellView, error) {
	r.mu.Lock()
	s, ok := r.shells[shellID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrShellNotFound
	}
	target := s.pos + delta
	if target < 0 || target >= len(s.history) {
		view := r.viewLocked(s)
		r.mu.Unlock()
		return view, ErrNoHistory
	}
	tool := s.history[target]
	r.mu.Unlock()

	area, err := r.prepare(ctx, tool)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok = r.shells[shellID]
	if !ok {
		return nil, ErrShellNotFound
	}
	s.lastAccessed = time.Now()
	if errors.Is(err, ErrUnknownTool) {
		// dropped by a registry reload
		return r.viewLocked(s), err
	}
	r.applyLocked(ctx, s, area, err, false)
	if err == nil {
		s.pos = target
	}
	return r.viewLocked(s), err
}

func (r *Router) exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.shells[id]
	return ok
}

// prepare loads the library of tool and renders its module. It runs
// without the router lock since a remote library may take a while.
func (r *Router) prepare(ctx context.Context, id string) (Area, error) {
	tool, err := r.registry.Lookup(id)
	if err != nil {
		return Area{}, err
	}

	if err := r.loader.Ensure(ctx, tool); err != nil {
		var loadErr *LibraryLoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LibraryLoadError{Library: tool.Library, Name: tool.Name, Err: err}
		}
		return errorArea(tool.ID, loadErr), loadErr
	}

	area := Area{Tool: tool.ID}
	if err := mount(moduleFor(tool, r.registry.Help(tool.ID)), &area); err != nil {
		loadErr := &LibraryLoadError{Library: tool.Library, Name: tool.Name, Err: err}
		return errorArea(tool.ID, loadErr), loadErr
	}
	return area, nil
}

// applyLocked records the switch to area in s. A failed load only replaces
// the content with the error panel. With push set the tool is appended to
// the history after the current position.
func (r *Router) applyLocked(ctx context.Context, s *shell, area Area, loadErr error, push bool) {
	name := area.Tool
	if tool, err := r.registry.Lookup(area.Tool); err == nil {
		name = tool.Name
	}

	if s.active != "" {
		r.tracker.Track(ctx, analytics.EventToolSwitched, analytics.Params{
			"from_tool": s.active,
			"to_tool":   area.Tool,
			"tool_name": name,
		})
	}
	r.tracker.Track(ctx, analytics.EventPageView, analytics.Params{
		"page_title": name,
		"page_path":  "/" + area.Tool,
	})

	s.content = area
	if loadErr != nil {
		return
	}
	s.active = area.Tool
	if push {
		s.history = append(s.history[:min(s.pos+1, len(s.history))], area.Tool)
		s.pos = len(s.history) - 1
	}
}

func (r *Router) viewLocked(s *shell) *ShellView {
	tools := r.registry.List()
	view := &ShellView{
		ID:         s.id,
		Active:     s.active,
		Content:    s.content,
		CanBack:    s.pos > 0,
		CanForward: s.pos < len(s.history)-1,
		Nav:        make([]NavEntry, 0, len(tools)),
	}
	if s.active != "" {
		view.Anchor = "#" + s.active
	}
	for _, t := range tools {
		if t.ID == s.active {
			view.Title = t.Name
		}
		view.Nav = append(view.Nav, NavEntry{
			ID:     t.ID,
			Name:   t.Name,
			Icon:   t.Icon,
			Active: t.ID == s.active,
			Loaded: t.Loaded,
		})
	}
	return view
}

// Count returns the number of live shells.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shells)
}

// CleanupShells drops shells not accessed within maxAge and returns how
// many were removed.
func (r *Router) CleanupShells(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, s := range r.shells {
		if now.Sub(s.lastAccessed) > maxAge {
			delete(r.shells, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("Cleaned up idle shells")
	}
	return removed
}

func (r *Router) evictOldestLocked() {
	var oldest *shell
	for _, s := range r.shells {
		if oldest == nil || s.lastAccessed.Before(oldest.lastAccessed) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(r.shells, oldest.id)
	}
}
