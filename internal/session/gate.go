package session

import (
	"context"
	"sync"
	"time"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Gate records whether the wallet is authenticated and lets callers wait
// for it. It is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	session *Session
	// ready is closed while a session is open.
	ready chan struct{}
	now   func() time.Time
}

// NewGate creates a locked Gate.
func NewGate() *Gate {
	return &Gate{ready: make(chan struct{}), now: time.Now}
}

// Authenticate opens a session. A ttl of zero or less never expires.
func (g *Gate) Authenticate(name string, ttl time.Duration) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	s := &Session{Name: name, CreatedAt: now}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	if g.session == nil {
		close(g.ready)
	}
	g.session = s
	cp := *s
	return &cp
}

// Lock closes the current session, if any.
func (g *Gate) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lockLocked()
}

func (g *Gate) lockLocked() {
	if g.session == nil {
		return
	}
	g.session = nil
	g.ready = make(chan struct{})
}

// Authenticated reports whether a session is open. Expired sessions are
// closed on the way.
func (g *Gate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openLocked()
}

// Current returns the open session or nil.
func (g *Gate) Current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.openLocked() {
		return nil
	}
	cp := *g.session
	return &cp
}

func (g *Gate) openLocked() bool {
	if g.session == nil {
		return false
	}
	if !g.session.ValidAt(g.now()) {
		g.lockLocked()
		return false
	}
	return true
}

// Wait blocks until a session is open or ctx ends. A context that ends
// first yields TIMEOUT.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.openLocked() {
			g.mu.Unlock()
			return nil
		}
		ready := g.ready
		g.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return walleterr.WithCause(walleterr.ErrTimeout, ctx.Err())
		}
	}
}
