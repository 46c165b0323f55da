// Package registry maps table ids to running actors. It creates actors
// from validated configs, rehydrates them from checkpoints at startup,
// serves lobby summaries through a short-TTL cache, and reaps tables
// that stay empty past the quiescence period.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/feltpoker/felt/internal/store"
	"github.com/feltpoker/felt/internal/table"
	"github.com/feltpoker/felt/internal/tableid"
)

var (
	// ErrTableNotFound means no actor exists for the id
	ErrTableNotFound = errors.New("registry: table not found")

	// ErrTooManyTables means the registry's table cap is reached
	ErrTooManyTables = errors.New("registry: table limit reached")
)

const (
	defaultMaxTables  = 256
	summaryTTL        = 2 * time.Second
	defaultReapPeriod = 30 * time.Second
)

// Options wires the registry
type Options struct {
	Logger *log.Logger
	Clock  quartz.Clock

	Broadcaster table.Broadcaster
	Store       *store.Store
	Escrow      table.Escrow
	History     table.HandRecorder

	MaxTables int
}

// Filter narrows lobby listings
type Filter struct {
	Stakes   string
	HasSeats bool
}

// Registry owns the table map. Lookups take the read lock;
// create/destroy take the write lock.
type Registry struct {
	logger *log.Logger
	clock  quartz.Clock
	opts   Options

	mu      sync.RWMutex
	tables  map[string]*entry
	cancels map[string]context.CancelFunc

	cacheMu      sync.Mutex
	cache        []table.Summary
	cacheExpires time.Time
}

type entry struct {
	tbl *table.Table
}

// New builds an empty registry
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxTables <= 0 {
		opts.MaxTables = defaultMaxTables
	}
	return &Registry{
		logger:  opts.Logger.WithPrefix("registry"),
		clock:   opts.Clock,
		opts:    opts,
		tables:  make(map[string]*entry),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Create validates the config, persists the table metadata, and starts
// a fresh actor.
func (r *Registry) Create(ctx context.Context, cfg table.Config) (*table.Table, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := tableid.New()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tables) >= r.opts.MaxTables {
		return nil, ErrTooManyTables
	}

	tbl, err := table.New(r.tableOptions(id, cfg))
	if err != nil {
		return nil, err
	}
	if r.opts.Store != nil {
		meta, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode table config: %w", err)
		}
		if err := r.opts.Store.SaveMeta(ctx, id, meta); err != nil {
			return nil, err
		}
	}
	r.start(tbl)
	r.logger.Info("table created", "table", id, "name", cfg.Name, "stakes", cfg.Stakes())
	r.invalidateCache()
	return tbl, nil
}

func (r *Registry) tableOptions(id string, cfg table.Config) table.Options {
	var ckpt table.Checkpointer
	if r.opts.Store != nil {
		ckpt = r.opts.Store
	}
	return table.Options{
		ID:           id,
		Config:       cfg,
		Logger:       r.opts.Logger,
		Clock:        r.clock,
		Broadcaster:  r.opts.Broadcaster,
		Checkpointer: ckpt,
		Escrow:       r.opts.Escrow,
		History:      r.opts.History,
		NewHandID:    tableid.New,
	}
}

// start launches the actor goroutine. Caller holds the write lock.
func (r *Registry) start(tbl *table.Table) {
	ctx, cancel := context.WithCancel(context.Background())
	r.tables[tbl.ID()] = &entry{tbl: tbl}
	r.cancels[tbl.ID()] = cancel
	go tbl.Run(ctx)
}

// Rehydrate restores every persisted table at startup. Tables without a
// checkpoint start fresh from their stored config.
func (r *Registry) Rehydrate(ctx context.Context) error {
	if r.opts.Store == nil {
		return nil
	}
	ids, err := r.opts.Store.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		meta, err := r.opts.Store.LoadMeta(ctx, id)
		if err != nil {
			return err
		}
		var cfg table.Config
		if err := json.Unmarshal(meta, &cfg); err != nil {
			return fmt.Errorf("decode config for table %s: %w", id, err)
		}

		var tbl *table.Table
		_, state, err := r.opts.Store.LoadCheckpoint(ctx, id)
		switch {
		case err == nil:
			tbl, err = table.Restore(r.tableOptions(id, cfg), state)
			if err != nil {
				r.logger.Error("checkpoint restore failed, starting fresh", "incident", "restore_failed", "table", id, "error", err)
				tbl = nil
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			return err
		}
		if tbl == nil {
			tbl, err = table.New(r.tableOptions(id, cfg))
			if err != nil {
				return err
			}
		}

		r.mu.Lock()
		r.start(tbl)
		r.mu.Unlock()
		r.logger.Info("table rehydrated", "table", id, "phase", tbl.Summary().Phase)
	}
	r.invalidateCache()
	return nil
}

// Get returns the actor for a table id
func (r *Registry) Get(id string) (*table.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return e.tbl, nil
}

// List returns lobby summaries matching the filter. Summaries come from
// a short-TTL cache; table create/destroy invalidates it.
func (r *Registry) List(filter Filter) []table.Summary {
	summaries := r.cachedSummaries()
	out := make([]table.Summary, 0, len(summaries))
	for _, s := range summaries {
		if filter.Stakes != "" && s.Stakes != filter.Stakes {
			continue
		}
		if filter.HasSeats && s.Seated >= s.MaxSeats {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) cachedSummaries() []table.Summary {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	now := r.clock.Now()
	if r.cache != nil && now.Before(r.cacheExpires) {
		return r.cache
	}
	r.mu.RLock()
	summaries := make([]table.Summary, 0, len(r.tables))
	for _, e := range r.tables {
		summaries = append(summaries, e.tbl.Summary())
	}
	r.mu.RUnlock()
	r.cache = summaries
	r.cacheExpires = now.Add(summaryTTL)
	return summaries
}

func (r *Registry) invalidateCache() {
	r.cacheMu.Lock()
	r.cache = nil
	r.cacheMu.Unlock()
}

// Destroy stops a table's actor and removes its persisted state
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.tables[id]
	if ok {
		delete(r.tables, id)
		cancel := r.cancels[id]
		delete(r.cancels, id)
		cancel()
		e.tbl.Close()
	}
	r.mu.Unlock()
	if !ok {
		return ErrTableNotFound
	}
	if r.opts.Store != nil {
		if err := r.opts.Store.DeleteTable(ctx, id); err != nil {
			return err
		}
	}
	r.logger.Info("table destroyed", "table", id)
	r.invalidateCache()
	return nil
}

// Janitor reaps tables that stay empty past their idle period. Run it
// in its own goroutine; it exits when ctx is done.
func (r *Registry) Janitor(ctx context.Context) {
	ticker := r.clock.NewTicker(defaultReapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.reap(ctx, now)
		}
	}
}

func (r *Registry) reap(ctx context.Context, now time.Time) {
	r.mu.RLock()
	var idle []string
	for id, e := range r.tables {
		s := e.tbl.Summary()
		if s.Seated == 0 && now.Sub(s.LastActive) >= e.tbl.Config().IdleAfter {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range idle {
		r.logger.Info("reaping idle table", "table", id)
		if err := r.Destroy(ctx, id); err != nil && !errors.Is(err, ErrTableNotFound) {
			r.logger.Error("reap failed", "table", id, "error", err)
		}
	}
}

// Shutdown stops every actor
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.cancels {
		cancel()
		r.tables[id].tbl.Close()
	}
	r.tables = make(map[string]*entry)
	r.cancels = make(map[string]context.CancelFunc)
}
