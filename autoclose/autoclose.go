// Package autoclose sweeps for inactive open tickets, warns them, and
// closes them after a grace window unless activity resumes.
package autoclose

import (
	"context"
	"sync"
	"time"

	"ticket-bot/storage"
	"ticket-bot/ticket"

	"go.uber.org/zap"
)

// Store is the slice of the persistence layer the scheduler needs.
type Store interface {
	AutoCloseGuilds(ctx context.Context) ([]storage.GuildConfig, error)
	StaleOpenTickets(ctx context.Context, guildID string, cutoff time.Time) ([]storage.Ticket, error)
	TouchActivity(ctx context.Context, channelID string, msg storage.TicketMessage) error
	MarkDeleted(ctx context.Context, channelID string) (*storage.Ticket, error)
}

// Gateway is the channel surface the scheduler needs.
type Gateway interface {
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]ticket.Message, error)
	SendInactivityWarning(ctx context.Context, t *storage.Ticket, grace time.Duration) error
}

// Closer executes the system close transition.
type Closer interface {
	AutoClose(ctx context.Context, t *storage.Ticket) (*storage.Ticket, error)
}

// Scheduler runs an hourly-scale sweep. Each warned ticket gets one
// cancellable grace timer, registered in pending; the registry doubles as
// the in-flight guard, so a second sweep never stacks a duplicate timer
// and resumed activity can cancel the deferred close outright.
type Scheduler struct {
	store   Store
	gateway Gateway
	closer  Closer
	logger  *zap.Logger

	sweepInterval time.Duration
	grace         time.Duration
	fetchLimit    int

	mu      sync.Mutex
	pending map[string]*time.Timer

	now func() time.Time
}

func NewScheduler(store Store, gateway Gateway, closer Closer, sweepInterval, grace time.Duration, fetchLimit int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		gateway:       gateway,
		closer:        closer,
		logger:        logger,
		sweepInterval: sweepInterval,
		grace:         grace,
		fetchLimit:    fetchLimit,
		pending:       make(map[string]*time.Timer),
		now:           time.Now,
	}
}

// Run sweeps until ctx is cancelled. Individual ticket failures are
// logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("auto-close scheduler started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Duration("grace", s.grace))

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			s.logger.Info("auto-close scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep warns every stale open ticket in every auto-close-enabled guild.
func (s *Scheduler) Sweep(ctx context.Context) {
	guilds, err := s.store.AutoCloseGuilds(ctx)
	if err != nil {
		s.logger.Error("auto-close guild query failed", zap.Error(err))
		return
	}

	for _, gc := range guilds {
		hours := gc.AutoClose.InactivityHours
		if hours <= 0 {
			continue
		}
		cutoff := s.now().Add(-time.Duration(hours) * time.Hour)

		stale, err := s.store.StaleOpenTickets(ctx, gc.GuildID, cutoff)
		if err != nil {
			s.logger.Error("stale ticket query failed",
				zap.String("guild", gc.GuildID), zap.Error(err))
			continue
		}
		for i := range stale {
			s.process(ctx, &stale[i])
		}
	}
}

func (s *Scheduler) process(ctx context.Context, t *storage.Ticket) {
	s.mu.Lock()
	if _, inFlight := s.pending[t.ChannelID]; inFlight {
		s.mu.Unlock()
		return
	}
	// Reserve the slot before the warning goes out so a concurrent sweep
	// cannot double-warn.
	s.pending[t.ChannelID] = nil
	s.mu.Unlock()

	exists, err := s.gateway.ChannelExists(ctx, t.ChannelID)
	if err != nil {
		s.logger.Warn("channel existence check failed",
			zap.String("ticket", t.TicketID), zap.Error(err))
		s.unregister(t.ChannelID)
		return
	}
	if !exists {
		if _, err := s.store.MarkDeleted(ctx, t.ChannelID); err != nil {
			s.logger.Warn("mark-deleted on lost channel failed",
				zap.String("ticket", t.TicketID), zap.Error(err))
		} else {
			s.logger.Info("ticket channel gone, marked deleted",
				zap.String("ticket", t.TicketID))
		}
		s.unregister(t.ChannelID)
		return
	}

	if err := s.gateway.SendInactivityWarning(ctx, t, s.grace); err != nil {
		s.logger.Warn("inactivity warning failed",
			zap.String("ticket", t.TicketID), zap.Error(err))
		s.unregister(t.ChannelID)
		return
	}

	warnedAt := s.now()
	snapshot := *t
	timer := time.AfterFunc(s.grace, func() {
		s.Recheck(context.Background(), &snapshot, warnedAt)
	})

	s.mu.Lock()
	s.pending[t.ChannelID] = timer
	s.mu.Unlock()

	s.logger.Info("inactivity warning sent",
		zap.String("ticket", t.TicketID),
		zap.String("guild", t.GuildID),
		zap.Time("warned_at", warnedAt))
}

// Recheck runs when the grace window elapses: any non-bot message after
// the warning keeps the ticket alive, otherwise the close executes.
func (s *Scheduler) Recheck(ctx context.Context, t *storage.Ticket, warnedAt time.Time) {
	defer s.unregister(t.ChannelID)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msgs, err := s.gateway.FetchRecentMessages(ctx, t.ChannelID, s.fetchLimit)
	if err != nil {
		// Leave the ticket alone; the next sweep picks it up again.
		s.logger.Warn("grace re-check fetch failed",
			zap.String("ticket", t.TicketID), zap.Error(err))
		return
	}

	for _, m := range msgs {
		if m.Bot || !m.Timestamp.After(warnedAt) {
			continue
		}
		err := s.store.TouchActivity(ctx, t.ChannelID, storage.TicketMessage{
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
		if err != nil {
			s.logger.Warn("activity refresh failed",
				zap.String("ticket", t.TicketID), zap.Error(err))
		}
		s.logger.Info("auto-close abandoned, activity resumed",
			zap.String("ticket", t.TicketID))
		return
	}

	if _, err := s.closer.AutoClose(ctx, t); err != nil {
		if k := ticket.KindOf(err); k == ticket.KindAlreadyClosed || k == ticket.KindAlreadyDeleted {
			s.logger.Debug("ticket already closed before grace expiry",
				zap.String("ticket", t.TicketID))
			return
		}
		s.logger.Error("auto-close failed",
			zap.String("ticket", t.TicketID), zap.Error(err))
		return
	}
	s.logger.Info("ticket auto-closed", zap.String("ticket", t.TicketID))
}

// CancelPending drops the grace timer for a channel, if any. Called from
// activity tracking so a resumed conversation cancels the deferred close
// instead of letting it fire into a no-op.
func (s *Scheduler) CancelPending(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[channelID]
	if !ok {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	delete(s.pending, channelID)
}

// PendingCount reports how many grace timers are outstanding.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) unregister(channelID string) {
	s.mu.Lock()
	delete(s.pending, channelID)
	s.mu.Unlock()
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.pending {
		if timer != nil {
			timer.Stop()
		}
		delete(s.pending, id)
	}
}
