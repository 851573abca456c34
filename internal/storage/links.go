package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdftools/backend/internal/models"
)

// ErrLinkNotFound is returned for unknown, expired or already used tokens.
var ErrLinkNotFound = errors.New("download link not found or already used")

// MetaRelease marks a link whose file has no other owner. The file is
// handed to the release hook when the link expires or is revoked unclaimed.
const MetaRelease = "release"

// Link is a one-shot reference to a stored file.
type Link struct {
	Token     string
	FileID    string
	FileName  string
	MIMEType  string
	Size      int64
	Meta      map[string]string
	ExpiresAt time.Time
}

// Links issues one-shot download tokens. A token is released as soon as it
// is claimed, when it expires, or on RevokeAll.
type Links struct {
	mu     sync.Mutex
	links  map[string]*Link
	ttl    time.Duration
	prefix string
	now    func() time.Time

	release func(fileID string)
}

// NewLinks creates a link registry. URLs are built as prefix + token.
func NewLinks(prefix string, ttl time.Duration) *Links {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Links{
		links:  make(map[string]*Link),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}
}

// OnRelease sets the hook that receives the file of every release-marked
// link dropped without being claimed.
func (l *Links) OnRelease(fn func(fileID string)) {
	l.mu.Lock()
	l.release = fn
	l.mu.Unlock()
}

// Create registers a token for a stored file.
func (l *Links) Create(info *models.FileInfo, downloadName string, meta map[string]string) models.DownloadLink {
	if downloadName == "" {
		downloadName = info.Name
	}
	link := &Link{
		Token:     uuid.New().String(),
		FileID:    info.ID,
		FileName:  downloadName,
		MIMEType:  info.MIMEType,
		Size:      info.Size,
		Meta:      meta,
		ExpiresAt: l.now().Add(l.ttl),
	}

	l.mu.Lock()
	l.links[link.Token] = link
	l.mu.Unlock()

	return models.DownloadLink{
		Token:    link.Token,
		URL:      fmt.Sprintf("%s%s", l.prefix, link.Token),
		FileName: link.FileName,
		Size:     link.Size,
	}
}

// Claim consumes a token. The token cannot be used again. Claiming an
// expired token releases its file.
func (l *Links) Claim(token string) (*Link, error) {
	l.mu.Lock()
	link, ok := l.links[token]
	if !ok {
		l.mu.Unlock()
		return nil, ErrLinkNotFound
	}
	delete(l.links, token)
	expired := l.now().After(link.ExpiresAt)
	release := l.release
	l.mu.Unlock()

	if expired {
		releaseFiles(release, []*Link{link})
		return nil, ErrLinkNotFound
	}
	return link, nil
}

// RevokeFile drops every outstanding token that points at fileID.
func (l *Links) RevokeFile(fileID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for token, link := range l.links {
		if link.FileID == fileID {
			delete(l.links, token)
			n++
		}
	}
	return n
}

// Sweep drops expired tokens, releases their files and returns how many
// tokens were removed.
func (l *Links) Sweep() int {
	l.mu.Lock()
	now := l.now()
	var expired []*Link
	for token, link := range l.links {
		if now.After(link.ExpiresAt) {
			delete(l.links, token)
			expired = append(expired, link)
		}
	}
	release := l.release
	l.mu.Unlock()

	releaseFiles(release, expired)
	return len(expired)
}

// RevokeAll drops every outstanding token and releases their files.
func (l *Links) RevokeAll() int {
	l.mu.Lock()
	dropped := make([]*Link, 0, len(l.links))
	for _, link := range l.links {
		dropped = append(dropped, link)
	}
	l.links = make(map[string]*Link)
	release := l.release
	l.mu.Unlock()

	releaseFiles(release, dropped)
	return len(dropped)
}

// releaseFiles runs outside the lock so the hook may call back into Links.
func releaseFiles(release func(string), links []*Link) {
	if release == nil {
		return
	}
	for _, link := range links {
		if link.Meta[MetaRelease] != "" {
			release(link.FileID)
		}
	}
}

// Outstanding returns the number of live tokens.
func (l *Links) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.links)
}
