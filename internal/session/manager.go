package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/validator"
)

var (
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached and
	// no idle session can be evicted.
	ErrTooManySessions = errors.New("too many active sessions")
	// ErrNoFile is returned when compression is requested without a held file.
	ErrNoFile = errors.New("no file selected")
	// ErrNoResult is returned when a download is requested without a result.
	ErrNoResult = errors.New("no compressed file available")
)

// User-facing messages for the errors above.
const (
	MsgNoFile   = "No file selected. Please select a PDF file to compress."
	MsgNoResult = "No compressed file available. Please try compressing the file again."
)

const (
	// DefaultMaxSessions limits concurrent sessions to bound held uploads.
	DefaultMaxSessions = 200
	// SessionMaxAge is how long an idle session is kept.
	SessionMaxAge = 30 * time.Minute
	// SessionKeepAliveWindow protects sessions touched this recently from cleanup.
	SessionKeepAliveWindow = 5 * time.Minute
)

// Session is one client's pass through a tool.
type Session struct {
	ID           string
	Tool         string
	File         *models.FileInfo
	Result       *models.CompressionResult
	StatusText   string
	Progress     float64
	ErrorMessage string
	CreatedAt    time.Time
	LastAccessed time.Time

	controller *Controller
}

// Phase returns the active section.
func (s *Session) Phase() models.Phase {
	return s.controller.Phase()
}

func (s *Session) view() *models.SessionView {
	v := &models.SessionView{
		ID:           s.ID,
		Tool:         s.Tool,
		Phase:        s.controller.Phase(),
		Sections:     s.controller.Sections(),
		StatusText:   s.StatusText,
		Progress:     s.Progress,
		ErrorMessage: s.ErrorMessage,
		ScrollToTop:  s.controller.ScrollToTop(),
		File:         s.File,
		Result:       s.Result,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
	}
	if s.File != nil {
		v.FileSize = validator.FormatFileSize(s.File.Size)
	}
	return v
}

// Config holds manager limits.
type Config struct {
	MaxSessions int
	KeepAlive   time.Duration
}

// Manager owns every live session.
type Manager struct {
	sessions map[string]*Session
	subs     map[string]map[chan *models.SessionView]struct{}
	mu       sync.RWMutex

	store     storage.Store
	links     *storage.Links
	validator *validator.Validator
	logger    *bolt.Logger
	cfg       Config
	now       func() time.Time
}

// NewManager creates a session manager. links and v may be nil.
func NewManager(store storage.Store, links *storage.Links, v *validator.Validator, cfg Config, logger *bolt.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = SessionKeepAliveWindow
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		subs:      make(map[string]map[chan *models.SessionView]struct{}),
		store:     store,
		links:     links,
		validator: v,
		logger:    logging.OrDefault(logger),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create starts a session for tool in the upload section.
func (m *Manager) Create(tool string) (*models.SessionView, error) {
	ctrl, err := NewController()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.evictIdleLocked(len(m.sessions) - m.cfg.MaxSessions + 1)
		if len(m.sessions) >= m.cfg.MaxSessions {
			ctrl.Stop()
			return nil, ErrTooManySessions
		}
	}

	now := m.now()
	s := &Session{
		ID:           uuid.New().String(),
		Tool:         tool,
		CreatedAt:    now,
		LastAccessed: now,
		controller:   ctrl,
	}
	m.sessions[s.ID] = s

	logging.With(m.logger.Debug(), logging.SessionID(s.ID), logging.Tool(tool)).Msg("Session created")
	return s.view(), nil
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (*models.SessionView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.view(), nil
}

// Touch updates the LastAccessed timestamp so the session survives cleanup.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastAccessed = m.now()
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AcceptFile validates and stores an upload, then moves the session to
// preview. A rejected file leaves the session in upload and stores nothing.
func (m *Manager) AcceptFile(ctx context.Context, id, name, mimeType string, size int64, r io.Reader) (*models.SessionView, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var tool string
	if ok {
		tool = s.Tool
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !s.controller.Can(EventAccept) {
		return nil, fmt.Errorf("%w: cannot accept a file in %s", ErrInvalidTransition, s.Phase())
	}

	if m.validator != nil {
		if err := m.validator.Validate(ctx, tool, name, mimeType, size); err != nil {
			return nil, err
		}
	}

	info, err := m.store.Save(name, mimeType, models.FileKindUpload, r)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	// the declared size comes from the client
	if m.validator != nil && info.Size != size {
		if err := m.validator.Check(name, mimeType, info.Size); err != nil {
			m.deleteFile(info.ID)
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok = m.sessions[id]
	if !ok {
		m.deleteFile(info.ID)
		return nil, ErrNotFound
	}
	if _, err := s.controller.Send(EventAccept); err != nil {
		m.deleteFile(info.ID)
		return nil, err
	}
	s.File = info
	s.LastAccessed = m.now()
	m.publishLocked(s)

	logging.With(m.logger.Info(), logging.SessionID(id), logging.Tool(tool), logging.FileSize(info.Size)).
		Str("file", info.Name).
		Msg("File accepted")
	return s.view(), nil
}

// BeginCompress moves the session to processing and returns the held file.
func (m *Manager) BeginCompress(id string) (*models.FileInfo, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	if s.File == nil {
		return nil, "", ErrNoFile
	}
	if _, err := s.controller.Send(EventCompress); err != nil {
		return nil, "", err
	}

	s.StatusText = ""
	s.Progress = 0
	s.ErrorMessage = ""
	s.LastAccessed = m.now()
	m.publishLocked(s)
	return s.File, s.Tool, nil
}

// SetStatus records progress text while processing.
func (m *Manager) SetStatus(id, text string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Phase() != models.PhaseProcessing {
		return
	}
	s.StatusText = text
	s.Progress = progress
	m.publishLocked(s)
}

// Succeed stores the result and shows the results section. If the session
// is gone the result file is released.
func (m *Manager) Succeed(id string, result *models.CompressionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		m.deleteFile(result.FileID)
		return ErrNotFound
	}
	if _, err := s.controller.Send(EventSucceed); err != nil {
		m.deleteFile(result.FileID)
		return err
	}

	if s.Result != nil && s.Result.FileID != result.FileID {
		m.releaseResultLocked(s)
	}
	s.Result = result
	s.Progress = 100
	s.ErrorMessage = ""
	m.publishLocked(s)
	return nil
}

// Fail shows the error section with message.
func (m *Manager) Fail(id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if _, err := s.controller.Send(EventFail); err != nil {
		return err
	}
	s.ErrorMessage = message
	m.publishLocked(s)
	return nil
}

// Cancel drops the held file and returns to upload.
func (m *Manager) Cancel(id string) (*models.SessionView, error) {
	return m.transitionAndRelease(id, EventCancel)
}

// Reset discards the file and result and returns to upload. Used for
// "compress another" and retry.
func (m *Manager) Reset(id string) (*models.SessionView, error) {
	return m.transitionAndRelease(id, EventReset)
}

func (m *Manager) transitionAndRelease(id string, ev statekit.EventType) (*models.SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := s.controller.Send(ev); err != nil {
		return nil, err
	}

	m.releaseLocked(s)
	s.StatusText = ""
	s.Progress = 0
	s.ErrorMessage = ""
	s.LastAccessed = m.now()
	m.publishLocked(s)
	return s.view(), nil
}

// Download issues a one-shot link for the session's result.
func (m *Manager) Download(id string) (models.DownloadLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return models.DownloadLink{}, ErrNotFound
	}
	if s.Result == nil || s.Phase() != models.PhaseResults || m.links == nil {
		return models.DownloadLink{}, ErrNoResult
	}
	info, err := m.store.Get(s.Result.FileID)
	if err != nil {
		return models.DownloadLink{}, ErrNoResult
	}

	s.LastAccessed = m.now()
	return m.links.Create(info, s.Result.DownloadName, map[string]string{
		"tool":            s.Tool,
		"session_id":      s.ID,
		"original_size":   strconv.FormatInt(s.Result.OriginalSize, 10),
		"compressed_size": strconv.FormatInt(s.Result.CompressedSize, 10),
	}), nil
}

// Delete removes a session and its files.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	m.removeLocked(s)
	return nil
}

// Subscribe streams snapshots of a session. The current snapshot is sent
// first. The returned function unsubscribes.
func (m *Manager) Subscribe(id string) (<-chan *models.SessionView, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan *models.SessionView, 4)
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan *models.SessionView]struct{})
	}
	m.subs[id][ch] = struct{}{}
	ch <- s.view()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.subs[id]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(m.subs, id)
				}
			}
		})
	}
	return ch, cancel, nil
}

// publishLocked sends the latest snapshot to subscribers. A slow
// subscriber loses its oldest pending snapshot.
func (m *Manager) publishLocked(s *Session) {
	set := m.subs[s.ID]
	if len(set) == 0 {
		return
	}
	v := s.view()
	for ch := range set {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// CleanupOldSessions removes sessions idle for longer than maxAge, but keeps
// sessions touched within the keep-alive window and sessions still processing.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.cfg.KeepAlive)

	removed := 0
	for _, s := range m.sessions {
		if s.Phase() == models.PhaseProcessing {
			continue
		}
		if s.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if s.LastAccessed.Before(cutoff) {
			idle := now.Sub(s.LastAccessed).Round(time.Second)
			m.removeLocked(s)
			removed++
			logging.With(m.logger.Info(), logging.SessionID(s.ID), logging.Duration(idle)).
				Msg("Cleaned up aged session")
		}
	}
	return removed
}

// evictIdleLocked frees up to n sessions that are not processing, oldest first.
func (m *Manager) evictIdleLocked(n int) {
	candidates := make([]*Session, 0, len(m.sessions))
	keepAliveCutoff := m.now().Add(-m.cfg.KeepAlive)
	for _, s := range m.sessions {
		if s.Phase() != models.PhaseProcessing && s.LastAccessed.Before(keepAliveCutoff) {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})

	for i := 0; i < n && i < len(candidates); i++ {
		m.removeLocked(candidates[i])
		logging.With(m.logger.Info(), logging.SessionID(candidates[i].ID)).
			Msg("Evicted idle session to free capacity")
	}
}

// StartCleanup runs CleanupOldSessions every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Session cleanup panicked")
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupOldSessions(maxAge)
			}
		}
	}()
}

// Close removes every session and its files.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		m.removeLocked(s)
	}
}

func (m *Manager) removeLocked(s *Session) {
	m.releaseLocked(s)
	s.controller.Stop()
	delete(m.sessions, s.ID)

	for ch := range m.subs[s.ID] {
		close(ch)
	}
	delete(m.subs, s.ID)
}

func (m *Manager) releaseLocked(s *Session) {
	if s.File != nil {
		m.deleteFile(s.File.ID)
		s.File = nil
	}
	m.releaseResultLocked(s)
}

func (m *Manager) releaseResultLocked(s *Session) {
	if s.Result == nil {
		return
	}
	if m.links != nil {
		m.links.RevokeFile(s.Result.FileID)
	}
	m.deleteFile(s.Result.FileID)
	s.Result = nil
}

func (m *Manager) deleteFile(id string) {
	if id == "" {
		return
	}
	if err := m.store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn().Str("file_id", id).Err(err).Msg("Failed to delete stored file")
	}
}
