// internal/lobby/presence.go
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const abandonTimeout = 10 * time.Second

// Presence counts each user's realtime connections. When the last one closes and none
// reopens within the grace period, the user leaves their lobby unless it has started.
//
// Counts are per process: with several instances behind the bus, a user connected to a
// different instance still looks absent here.
type Presence struct {
	mu      sync.Mutex
	conns   map[int64]int
	pending map[int64]*pendingLeave
	closed  bool

	grace  time.Duration
	leave  func(ctx context.Context, userID int64) error
	logger *logrus.Logger
}

type pendingLeave struct {
	timer *time.Timer
}

// NewPresence tracks connections for r. A grace of zero or less never leaves on a user's behalf.
func NewPresence(r *Registry, grace time.Duration, logger *logrus.Logger) *Presence {
	return &Presence{
		conns:   make(map[int64]int),
		pending: make(map[int64]*pendingLeave),
		grace:   grace,
		leave:   r.AbandonLobby,
		logger:  logger,
	}
}

// Connect records a new connection for userID and cancels a pending leave.
func (p *Presence) Connect(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID]++
	if pl, ok := p.pending[userID]; ok {
		pl.timer.Stop()
		delete(p.pending, userID)
	}
}

// Disconnect records a closed connection. Closing the user's last one starts the grace period.
func (p *Presence) Disconnect(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[userID] > 1 {
		p.conns[userID]--
		return
	}
	delete(p.conns, userID)
	if p.closed || p.grace <= 0 {
		return
	}

	if old, ok := p.pending[userID]; ok {
		old.timer.Stop()
	}
	pl := &pendingLeave{}
	pl.timer = time.AfterFunc(p.grace, func() { p.expire(userID, pl) })
	p.pending[userID] = pl
}

// Connected reports how many connections userID has open.
func (p *Presence) Connected(userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[userID]
}

// Close cancels every pending leave. Later disconnects start none.
func (p *Presence) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for userID, pl := range p.pending {
		pl.timer.Stop()
		delete(p.pending, userID)
	}
}

func (p *Presence) expire(userID int64, pl *pendingLeave) {
	p.mu.Lock()
	if p.pending[userID] != pl {
		// reconnected, or replaced by a newer disconnect
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	if err := p.leave(ctx, userID); err != nil {
		p.logger.WithError(err).WithField("user_id", userID).Warn("failed to leave lobby after disconnect")
		return
	}
	p.logger.WithField("user_id", userID).Debug("disconnect grace expired")
}
