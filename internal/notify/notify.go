// Package notify keeps the short list of user-facing notices of a session.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/logger"
)

// TransientTTL is how long a non-actionable notice stays visible.
const TransientTTL = 5 * time.Second

const maxNotices = 20

// Notifier receives failures that should reach the user.
type Notifier interface {
	Report(err error)
}

type Notice struct {
	ID         string        `json:"id"`
	Kind       apperror.Kind `json:"kind"`
	Message    string        `json:"message"`
	Actionable bool          `json:"actionable"`
	CreatedAt  time.Time     `json:"createdAt"`
	ExpiresAt  *time.Time    `json:"expiresAt,omitempty"`
}

// Center stores notices in memory. Transient notices expire on their own;
// actionable ones (upgrade, sign in again) stay until dismissed.
type Center struct {
	mu      sync.Mutex
	notices []Notice
	now     func() time.Time
	logger  *slog.Logger
}

var _ Notifier = (*Center)(nil)

func NewCenter(l *slog.Logger) *Center {
	return &Center{now: time.Now, logger: logger.OrDefault(l)}
}

// Report turns err into a notice using its category message. Cancelled
// operations are not reported.
func (c *Center) Report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	kind := apperror.Classify(err)
	c.Push(Notice{
		Kind:       kind,
		Message:    kind.Message(),
		Actionable: kind == apperror.KindEntitlement || kind == apperror.KindPermission,
	})
}

// Push adds n and returns it with its id and expiry filled in. A notice with
// the same message as an active one replaces it.
func (c *Center) Push(n Notice) Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = now
	n.ExpiresAt = nil
	if !n.Actionable {
		exp := now.Add(TransientTTL)
		n.ExpiresAt = &exp
	}

	c.pruneLocked(now)
	for i := range c.notices {
		if c.notices[i].Message == n.Message {
			c.notices = append(c.notices[:i], c.notices[i+1:]...)
			break
		}
	}
	c.notices = append(c.notices, n)
	if len(c.notices) > maxNotices {
		c.notices = c.notices[len(c.notices)-maxNotices:]
	}

	c.logger.Debug("notice pushed", "kind", n.Kind, "actionable", n.Actionable)
	return n
}

// Active returns the notices that have not expired, oldest first.
func (c *Center) Active() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Dismiss removes the notice with id and reports whether it existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notices {
		if c.notices[i].ID == id {
			c.notices = append(c.notices[:i], c.notices[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Center) pruneLocked(now time.Time) {
	kept := c.notices[:0]
	for _, n := range c.notices {
		if n.ExpiresAt == nil || now.Before(*n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	c.notices = kept
}
