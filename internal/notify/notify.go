// Package notify keeps the user-visible notifications of one terminal. The
// kiosk UI polls them; every notification is also logged.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

const (
	DefaultDuration = 5 * time.Second
	// MaxItems bounds a center nobody polls; the oldest entries go first.
	MaxItems = 100
)

type Notification struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message,omitempty"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// Notifier is what services post to.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
	Warning(title, message string)
	Info(title, message string)
}

type Center struct {
	mu    sync.Mutex
	items []Notification
	log   *slog.Logger
	now   func() time.Time
}

func NewCenter(l *slog.Logger) *Center {
	if l == nil {
		l = slog.Default()
	}
	return &Center{log: l, now: time.Now}
}

func (c *Center) Success(title, message string) { c.Add(KindSuccess, title, message, false) }
func (c *Center) Error(title, message string)   { c.Add(KindError, title, message, false) }
func (c *Center) Warning(title, message string) { c.Add(KindWarning, title, message, false) }
func (c *Center) Info(title, message string)    { c.Add(KindInfo, title, message, false) }

// Add posts a notification. Persistent ones stay until dismissed.
func (c *Center) Add(kind Kind, title, message string, persistent bool) string {
	now := c.now()
	n := Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		Title:      title,
		Message:    message,
		Persistent: persistent,
		CreatedAt:  now,
	}
	if !persistent {
		n.ExpiresAt = now.Add(DefaultDuration)
	}

	c.mu.Lock()
	c.pruneLocked(now)
	c.items = append(c.items, n)
	if over := len(c.items) - MaxItems; over > 0 {
		c.items = append(c.items[:0], c.items[over:]...)
	}
	c.mu.Unlock()

	switch kind {
	case KindError:
		c.log.Error("notification", "title", title, "message", message)
	case KindWarning:
		c.log.Warn("notification", "title", title, "message", message)
	default:
		c.log.Info("notification", "kind", string(kind), "title", title, "message", message)
	}
	return n.ID
}

// List drops expired notifications and returns the rest, oldest first.
func (c *Center) List() []Notification {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	return append([]Notification(nil), c.items...)
}

func (c *Center) pruneLocked(now time.Time) {
	kept := c.items[:0]
	for _, n := range c.items {
		if n.Persistent || now.Before(n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	clear(c.items[len(kept):])
	c.items = kept
}

func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Center) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// Discard drops every notification. It is used where no UI is attached.
type Discard struct{}

func (Discard) Success(string, string) {}
func (Discard) Error(string, string)   {}
func (Discard) Warning(string, string) {}
func (Discard) Info(string, string)    {}
