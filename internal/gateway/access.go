package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// DM policies.
const (
	PolicyOpen      = "open"
	PolicyAllowlist = "allowlist"
	PolicyPairing   = "pairing"
)

// AccessConfig controls who may talk to the assistant and how often.
type AccessConfig struct {
	// DMPolicy is open, allowlist, or pairing. It governs direct messages;
	// channel mentions rely on channel membership.
	DMPolicy     string
	AllowedUsers []string

	// RatePerMinute is the sustained per-user message rate. Zero disables
	// rate limiting.
	RatePerMinute float64
	Burst         int
}

type accessState struct {
	policy  string
	allowed map[string]struct{}
	limiter *userLimiter
}

func newAccessState(cfg AccessConfig) *accessState {
	policy := strings.ToLower(strings.TrimSpace(cfg.DMPolicy))
	if policy == "" {
		policy = PolicyOpen
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &accessState{policy: policy, allowed: allowed, limiter: newUserLimiter(cfg.RatePerMinute, cfg.Burst)}
}

// admit applies the DM policy. It returns the notice to send when the
// message is refused, or "" when it may proceed.
func (g *Gateway) admit(ctx context.Context, st *accessState, msg *models.InboundMessage) (string, bool) {
	if !msg.IsDM {
		return "", true
	}
	if _, ok := st.allowed[msg.SenderID]; ok {
		return "", true
	}
	switch st.policy {
	case PolicyOpen:
		return "", true
	case PolicyAllowlist:
		g.logger.InfoContext(ctx, "message blocked by allowlist", "user", msg.SenderID)
		return DeniedText, false
	case PolicyPairing:
		if g.pairing == nil {
			return DeniedText, false
		}
		ok, err := g.pairing.IsAllowed(msg.SenderID)
		if err != nil {
			g.logger.WarnContext(ctx, "pairing allowlist unavailable", "error", err)
			return DeniedText, false
		}
		if ok {
			return "", true
		}
		req, created, err := g.pairing.Request(msg.SenderID)
		if err != nil {
			g.logger.WarnContext(ctx, "pairing request failed", "user", msg.SenderID, "error", err)
			return DeniedText, false
		}
		if created {
			g.logger.InfoContext(ctx, "pairing code issued", "user", msg.SenderID, "code", req.Code)
		}
		return fmt.Sprintf(PairingTextFormat, req.Code), false
	default:
		g.logger.WarnContext(ctx, "unknown dm policy, denying", "policy", st.policy)
		return DeniedText, false
	}
}

// maxLimiters bounds tracked users before idle entries are pruned.
const maxLimiters = 10000

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu    sync.Mutex
	users map[string]*limiterEntry
}

func newUserLimiter(perMinute float64, burst int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return &userLimiter{
		limit: rate.Limit(perMinute / 60),
		burst: burst,
		now:   time.Now,
		users: make(map[string]*limiterEntry),
	}
}

// Allow reports whether userID may send a message now. A nil limiter
// allows everything.
func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.users[userID]
	if !ok {
		if len(l.users) >= maxLimiters {
			l.pruneLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *userLimiter) pruneLocked(now time.Time) {
	for id, e := range l.users {
		if now.Sub(e.lastSeen) > 10*time.Minute {
			delete(l.users, id)
		}
	}
}
