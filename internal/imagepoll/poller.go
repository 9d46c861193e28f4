// Package imagepoll reconciles goal images with the asynchronous image
// generator. A short aggressive watch follows each new goal, and a
// background sweep keeps checking every goal still marked as loading.
package imagepoll

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arnold/goalcoach-api/internal/images"
)

type Status string

const (
	// Confirmed: the store holds a generated image that passed the probe.
	Confirmed Status = "confirmed"
	// Accepted: the store cleared the loading flag with a non-generated
	// URL, which is trusted as is.
	Accepted Status = "accepted"
	// GaveUp: polling stopped without a generated image; the loading flag
	// was forced off.
	GaveUp Status = "gave_up"
)

type Result struct {
	GoalID uuid.UUID `json:"goalId"`
	UserID uuid.UUID `json:"userId"`
	URL    string    `json:"imageUrl"`
	Status Status    `json:"status"`
}

type Options struct {
	InitialDelay  time.Duration
	Interval      time.Duration
	MaxAttempts   int
	Deadline      time.Duration
	SweepInterval time.Duration

	// Prober, when set, must accept a generated image before it counts as
	// confirmed.
	Prober       images.Prober
	ProbeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialDelay:  time.Second,
		Interval:      2 * time.Second,
		MaxAttempts:   15,
		Deadline:      30 * time.Second,
		SweepInterval: 3 * time.Second,
		ProbeTimeout:  images.SecondaryTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialDelay <= 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.Deadline <= 0 {
		o.Deadline = d.Deadline
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	return o
}

type Manager struct {
	store    Store
	loaded   *LoadedSet
	opts     Options
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watches  map[uuid.UUID]*Handle
	checking map[uuid.UUID]bool
	pending  map[uuid.UUID]struct{}
	stale    map[uuid.UUID]struct{} // give-up write failed; the sweep retries
	sweep    *Handle
}

func NewManager(store Store, loaded *LoadedSet, opts Options, onResult func(Result)) *Manager {
	if loaded == nil {
		loaded = NewLoadedSet()
	}
	if onResult == nil {
		onResult = func(Result) {}
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		loaded:   loaded,
		opts:     opts,
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
		watches:  make(map[uuid.UUID]*Handle),
		checking: make(map[uuid.UUID]bool),
		pending:  make(map[uuid.UUID]struct{}),
		stale:    make(map[uuid.UUID]struct{}),
	}
}

func (m *Manager) Loaded() *LoadedSet { return m.loaded }

// Track adds a goal the caller knows to be loading to the sweep.
func (m *Manager) Track(id uuid.UUID) {
	if m.loaded.Has(id) {
		return
	}
	m.mu.Lock()
	m.pending[id] = struct{}{}
	m.mu.Unlock()
}

// Watch starts aggressive polling for a new goal. A goal already being
// watched returns the existing handle.
func (m *Manager) Watch(id uuid.UUID) *Handle {
	if m.loaded.Has(id) {
		return closedHandle()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.watches[id]; ok {
		return h
	}
	m.pending[id] = struct{}{}
	h := newHandle(m.ctx)
	m.watches[id] = h
	m.wg.Add(1)
	go m.runWatch(h, id)
	return h
}

func (m *Manager) runWatch(h *Handle, id uuid.UUID) {
	defer m.wg.Done()
	defer h.finish()
	defer func() {
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(h.ctx, m.opts.Deadline)
	defer cancel()

	wait := m.opts.InitialDelay
	for attempt := 0; attempt < m.opts.MaxAttempts; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if h.ctx.Err() == nil {
				m.giveUp(id)
			}
			return
		case <-timer.C:
		}
		wait = m.opts.Interval

		done, err := m.Check(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("poller: check goal %s: %v", id, err)
			}
			continue
		}
		if done {
			return
		}
	}

	if h.ctx.Err() == nil {
		m.giveUp(id)
	}
}

// StartSweep begins the background sweep. Calling it again returns the
// running sweep.
func (m *Manager) StartSweep() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweep != nil {
		return m.sweep
	}
	h := newHandle(m.ctx)
	m.sweep = h
	m.wg.Add(1)
	go m.runSweep(h)
	return h
}

func (m *Manager) runSweep(h *Handle) {
	defer m.wg.Done()
	defer h.finish()

	if recs, err := m.store.LoadingGoals(h.ctx); err != nil {
		log.Printf("poller: seed sweep: %v", err)
	} else {
		for _, rec := range recs {
			m.Track(rec.ID)
		}
	}

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}
		for _, id := range m.pendingIDs() {
			if _, err := m.Check(h.ctx, id); err != nil && h.ctx.Err() == nil {
				log.Printf("poller: sweep goal %s: %v", id, err)
			}
		}
		for _, id := range m.staleIDs() {
			m.giveUp(id)
		}
	}
}

func (m *Manager) staleIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.stale))
	for id := range m.stale {
		if m.loaded.Has(id) {
			delete(m.stale, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) setStale(id uuid.UUID, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stale {
		m.stale[id] = struct{}{}
	} else {
		delete(m.stale, id)
	}
}

// pendingIDs returns tracked goals not yet loaded, pruning loaded ones.
func (m *Manager) pendingIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.pending))
	for id := range m.pending {
		if m.loaded.Has(id) {
			delete(m.pending, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) acquire(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checking[id] {
		return false
	}
	m.checking[id] = true
	return true
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	delete(m.checking, id)
	m.mu.Unlock()
}

// Check re-reads a goal once and reports whether its image is resolved.
// It returns false without reading when another check of the same goal is
// in flight.
func (m *Manager) Check(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.loaded.Has(id) {
		return true, nil
	}
	if !m.acquire(id) {
		return false, nil
	}
	defer m.release(id)

	rec, err := m.store.GoalImage(ctx, id)
	if err != nil {
		return false, err
	}
	if m.loaded.Has(id) {
		return true, nil
	}
	if rec.ImageLoading {
		return false, nil
	}

	switch {
	case images.IsGenerated(rec.ImageURL):
		if m.opts.Prober != nil {
			pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
			err := m.opts.Prober.Probe(pctx, images.CacheBust(rec.ImageURL, images.NewToken()))
			cancel()
			if err != nil {
				log.Printf("poller: goal %s image not reachable yet: %v", id, err)
				return false, nil
			}
			if m.loaded.Has(id) {
				return true, nil
			}
		}
		m.report(Result{GoalID: id, UserID: rec.UserID, URL: images.CacheBust(rec.ImageURL, images.NewToken()), Status: Confirmed})
	case rec.ImageURL != "":
		m.report(Result{GoalID: id, UserID: rec.UserID, URL: rec.ImageURL, Status: Accepted})
	default:
		// Loading cleared without any URL; repair the row.
		fallback := images.ResolveFallbackImage(rec.Title)
		if err := m.store.StopLoading(ctx, id, fallback); err != nil {
			return false, err
		}
		m.report(Result{GoalID: id, UserID: rec.UserID, URL: fallback, Status: GaveUp})
	}
	return true, nil
}

func (m *Manager) giveUp(id uuid.UUID) {
	if m.loaded.Has(id) {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ProbeTimeout+time.Second)
	defer cancel()

	rec, err := m.store.GoalImage(ctx, id)
	if err != nil {
		// Without the row there is no owner to notify. Clear the flag and
		// hand the goal to the sweep, which reports it once a read succeeds.
		log.Printf("poller: give up on goal %s: %v", id, err)
		if err := m.store.StopLoading(ctx, id, ""); err != nil {
			log.Printf("poller: clear loading flag for goal %s: %v", id, err)
			m.setStale(id, true)
		}
		m.Track(id)
		return
	}
	url := rec.ImageURL
	if url == "" {
		url = images.ResolveFallbackImage(rec.Title)
	}
	if err := m.store.StopLoading(ctx, id, url); err != nil {
		// The row still says loading; leave the goal unloaded so the
		// sweep gives up again once writes recover.
		log.Printf("poller: clear loading flag for goal %s: %v", id, err)
		m.setStale(id, true)
		m.Track(id)
		return
	}
	m.setStale(id, false)
	m.report(Result{GoalID: id, UserID: rec.UserID, URL: url, Status: GaveUp})
}

// report marks the goal loaded and delivers the result once.
func (m *Manager) report(r Result) {
	if !m.loaded.Add(r.GoalID) {
		return
	}
	m.onResult(r)
}

// Close cancels every watch and the sweep and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
