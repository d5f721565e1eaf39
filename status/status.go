// Package status maintains cached ticket aggregates and rotates the
// bot's presence text through them. The cache is process-local and never
// the source of truth.
package status

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ticket-bot/storage"

	"go.uber.org/zap"
)

// Store is the aggregate-count slice of the persistence layer.
type Store interface {
	CountTickets(ctx context.Context, since time.Time) (storage.TicketCounts, error)
}

// Presence abstracts the platform session's presence surface.
type Presence interface {
	UpdateStatus(text string) error
	GuildCount() (guilds, users int)
}

type Snapshot struct {
	TotalTickets int64
	OpenTickets  int64
	ClosedToday  int64
	Guilds       int
	Users        int
	UpdatedAt    time.Time
}

type Metrics struct {
	Refreshes  uint64
	Errors     uint64
	AvgLatency time.Duration
}

// displayListExpiry bounds how long a built rotation list is reused
// before it is rebuilt from the snapshot.
const displayListExpiry = 35 * time.Second

// Refresher recomputes aggregates on a minutes-scale ticker and rotates
// the presence string on a seconds-scale one. Overlapping scheduled
// refreshes collapse via an in-flight flag; ForceRefresh bypasses it.
type Refresher struct {
	store    Store
	presence Presence
	logger   *zap.Logger

	refreshEvery time.Duration
	rotateEvery  time.Duration

	inflight atomic.Bool

	mu          sync.RWMutex
	snap        Snapshot
	displayList []string
	listBuiltAt time.Time
	rotationIdx int

	refreshes    atomic.Uint64
	errors       atomic.Uint64
	latencyNanos atomic.Int64

	now func() time.Time
}

func NewRefresher(store Store, presence Presence, refreshEvery, rotateEvery time.Duration, logger *zap.Logger) *Refresher {
	return &Refresher{
		store:        store,
		presence:     presence,
		logger:       logger,
		refreshEvery: refreshEvery,
		rotateEvery:  rotateEvery,
		now:          time.Now,
	}
}

// Run drives both tickers until ctx is cancelled. One refresh runs
// up front so the first rotation has data.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("status refresher started",
		zap.Duration("refresh_every", r.refreshEvery),
		zap.Duration("rotate_every", r.rotateEvery))

	r.ForceRefresh(ctx)

	refresh := time.NewTicker(r.refreshEvery)
	rotate := time.NewTicker(r.rotateEvery)
	defer refresh.Stop()
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("status refresher stopped")
			return
		case <-refresh.C:
			r.Refresh(ctx)
		case <-rotate.C:
			r.RotateDisplay()
		}
	}
}

// Refresh recomputes the aggregates unless another refresh is already in
// flight, in which case it is a no-op. Reports whether it ran.
func (r *Refresher) Refresh(ctx context.Context) bool {
	if !r.inflight.CompareAndSwap(false, true) {
		return false
	}
	defer r.inflight.Store(false)
	r.doRefresh(ctx)
	return true
}

// ForceRefresh bypasses the in-flight guard for on-demand admin use. It
// is safe alongside a scheduled refresh; the cache write is serialized
// and the timestamp always moves forward on success.
func (r *Refresher) ForceRefresh(ctx context.Context) {
	if r.inflight.CompareAndSwap(false, true) {
		defer r.inflight.Store(false)
	}
	r.doRefresh(ctx)
}

func (r *Refresher) doRefresh(ctx context.Context) {
	start := r.now()
	counts, err := r.store.CountTickets(ctx, startOfDay(start))
	r.refreshes.Add(1)
	r.latencyNanos.Add(int64(r.now().Sub(start)))

	if err != nil {
		// Keep serving the previous snapshot; never reset to zero.
		r.errors.Add(1)
		r.logger.Warn("stats refresh failed", zap.Error(err))
		return
	}

	guilds, users := r.presence.GuildCount()

	r.mu.Lock()
	r.snap = Snapshot{
		TotalTickets: counts.Total,
		OpenTickets:  counts.Open,
		ClosedToday:  counts.ClosedSince,
		Guilds:       guilds,
		Users:        users,
		UpdatedAt:    r.now(),
	}
	r.displayList = nil
	r.mu.Unlock()
}

// RotateDisplay advances the presence text. It reads only the cache: a
// stale snapshot is served as-is rather than blocking on the store.
func (r *Refresher) RotateDisplay() {
	r.mu.Lock()
	if r.displayList == nil || r.now().Sub(r.listBuiltAt) > displayListExpiry {
		r.displayList = buildDisplayList(r.snap)
		r.listBuiltAt = r.now()
	}
	text := r.displayList[r.rotationIdx%len(r.displayList)]
	r.rotationIdx++
	r.mu.Unlock()

	if err := r.presence.UpdateStatus(text); err != nil {
		r.logger.Debug("presence update failed", zap.Error(err))
	}
}

func buildDisplayList(s Snapshot) []string {
	return []string{
		fmt.Sprintf("%d open tickets", s.OpenTickets),
		fmt.Sprintf("%d tickets total", s.TotalTickets),
		fmt.Sprintf("%d closed today", s.ClosedToday),
		fmt.Sprintf("%d servers", s.Guilds),
		fmt.Sprintf("%d users", s.Users),
	}
}

func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Refresher) CacheAge() time.Duration {
	r.mu.RLock()
	updated := r.snap.UpdatedAt
	r.mu.RUnlock()
	if updated.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return r.now().Sub(updated)
}

func (r *Refresher) Metrics() Metrics {
	refreshes := r.refreshes.Load()
	m := Metrics{
		Refreshes: refreshes,
		Errors:    r.errors.Load(),
	}
	if refreshes > 0 {
		m.AvgLatency = time.Duration(r.latencyNanos.Load() / int64(refreshes))
	}
	return m
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
