// Package postgres implements the "postgres" source kind (a cron-scheduled
// polling query, translated into Insert/Update/Delete change events by
// diffing successive snapshots) and the "storedproc-postgres" reaction
// kind (CALL a stored procedure once per result-delta row).
//
// Grounded on the teacher's internal/db/database.go Config struct and
// validateConfig/pool-tuning pattern, minus the auth/session-schema parts
// that have no analog here.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Config mirrors the teacher's db.Config shape, trimmed to what a polling
// source needs: a DSN, the table to poll, and pool limits.
type Config struct {
	DSN             string
	Query           string // SELECT returning an "id" column plus projected properties
	Label           string // label attached to synthesized Node elements
	PollSchedule    string // cron spec, e.g. "@every 5s"
	MaxOpenConns    int
	MaxIdleConns    int
}

func validateConfig(cfg *Config) error {
	if cfg.DSN == "" {
		return apierrors.InvalidConfig("postgres source requires \"dsn\"")
	}
	if cfg.Query == "" {
		return apierrors.InvalidConfig("postgres source requires \"query\"")
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "@every 5s"
	}
	return nil
}

// SourceDescriptor is the registry.SourceDescriptor for kind "postgres".
type SourceDescriptor struct{}

func (SourceDescriptor) Kind() string            { return "postgres" }
func (SourceDescriptor) ConfigVersion() int       { return 1 }
func (SourceDescriptor) ConfigSchemaName() string { return "PostgresSourceConfig" }
func (SourceDescriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"dsn":{"type":"string"},"query":{"type":"string"},"label":{"type":"string"},"pollSchedule":{"type":"string"}},"required":["dsn","query"]}`
}

func (SourceDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	c := Config{
		DSN:          stringField(cfg, "dsn"),
		Query:        stringField(cfg, "query"),
		Label:        stringField(cfg, "label"),
		PollSchedule: stringField(cfg, "pollSchedule"),
	}
	if c.Label == "" {
		c.Label = "Row"
	}
	if err := validateConfig(&c); err != nil {
		return nil, err
	}
	return NewSource(id, c)
}

func stringField(cfg map[string]interface{}, key string) string {
	v, _ := cfg[key].(string)
	return v
}

// Source polls Query on a cron schedule and diffs successive snapshots
// (keyed by the result's "id" column) into Insert/Update/Delete events.
type Source struct {
	id    string
	cfg   Config
	guard *component.StatusGuard
	db    *sql.DB
	sched *cron.Cron
	log   zerolog.Logger

	mu       sync.Mutex
	snapshot map[string]component.Properties
	liveCh   chan component.ChangeEvent
	bootCh   chan component.BootstrapEvent
	seq      uint64
	started  bool
}

// NewSource opens the database connection pool and returns a Source ready
// to be started; it does not begin polling until Start is called.
func NewSource(id string, cfg Config) (*Source, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, apierrors.OperationFailed("postgres", id, "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return &Source{
		id:       id,
		cfg:      cfg,
		guard:    component.NewStatusGuard(id, nil),
		db:       db,
		log:      logger.ForComponent("source", id),
		snapshot: make(map[string]component.Properties),
	}, nil
}

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return "postgres" }
func (s *Source) Status() component.Status { return s.guard.Status() }

// AttachLogHook rebuilds the source's logger with the owning instance's
// log-registry hook.
func (s *Source) AttachLogHook(hook zerolog.Hook) {
	s.log = logger.ForComponent("source", s.id, hook)
}

func (s *Source) Start(ctx context.Context) error {
	if err := s.guard.Transition(component.Starting, ""); err != nil {
		return err
	}

	s.sched = cron.New()
	_, err := s.sched.AddFunc(s.cfg.PollSchedule, func() {
		if err := s.poll(); err != nil {
			s.log.Warn().Err(err).Msg("postgres poll failed")
		}
	})
	if err != nil {
		_ = s.guard.Transition(component.Error, err.Error())
		return apierrors.OperationFailed("postgres", s.id, "start", err)
	}
	s.sched.Start()

	return s.guard.Transition(component.Running, "")
}

func (s *Source) Stop(ctx context.Context) error {
	if err := s.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	if s.sched != nil {
		s.sched.Stop()
	}
	_ = s.db.Close()
	s.mu.Lock()
	if s.liveCh != nil {
		close(s.liveCh)
		s.liveCh = nil
	}
	s.mu.Unlock()
	return s.guard.Transition(component.Stopped, "")
}

func (s *Source) SetBootstrapProvider(component.BootstrapProvider) {
	// postgres is its own bootstrapper: the first poll's full snapshot is
	// replayed as the bootstrap stream (see poll()).
}

func (s *Source) Subscribe(settings component.SubscriptionSettings) (component.SubscriptionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveCh = make(chan component.ChangeEvent, 256)
	resp := component.SubscriptionResponse{LiveRx: s.liveCh}
	if settings.BootstrapEnabled {
		s.bootCh = make(chan component.BootstrapEvent, settings.BootstrapBufferSize)
		resp.BootstrapRx = s.bootCh
	}
	s.started = false
	return resp, nil
}

// poll runs one query iteration, diffs against the prior snapshot, and
// emits the resulting change events. The first call after Subscribe
// replays the full result as bootstrap events instead of live ones.
func (s *Source) poll() error {
	rows, err := s.db.Query(s.cfg.Query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	current := make(map[string]component.Properties)
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		var id string
		var props component.Properties
		for i, col := range cols {
			if col == "id" {
				id = fmt.Sprintf("%v", vals[i])
			}
			props = append(props, component.PropertyEntry{Name: col, Value: vals[i]})
		}
		if id == "" {
			continue
		}
		current[id] = props
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	isBootstrap := !s.started && s.bootCh != nil
	var seq uint64
	for id, props := range current {
		node := &component.Node{ID: id, Labels: []string{s.cfg.Label}, Props: props}
		if _, existed := s.snapshot[id]; !existed {
			if isBootstrap {
				seq++
				s.bootCh <- component.BootstrapEvent{SourceID: s.id, Sequence: seq, Change: component.ChangeEvent{Kind: component.Insert, After: node, SourceID: s.id}}
			} else if s.liveCh != nil {
				s.liveCh <- component.ChangeEvent{Kind: component.Insert, After: node, SourceID: s.id}
			}
		} else {
			before := &component.Node{ID: id, Labels: []string{s.cfg.Label}, Props: s.snapshot[id]}
			if s.liveCh != nil && !isBootstrap {
				s.liveCh <- component.ChangeEvent{Kind: component.Update, Before: before, After: node, SourceID: s.id}
			}
		}
	}
	for id, props := range s.snapshot {
		if _, still := current[id]; !still && s.liveCh != nil && !isBootstrap {
			before := &component.Node{ID: id, Labels: []string{s.cfg.Label}, Props: props}
			s.liveCh <- component.ChangeEvent{Kind: component.Delete, Before: before, SourceID: s.id}
		}
	}

	s.snapshot = current
	if isBootstrap {
		close(s.bootCh)
		s.bootCh = nil
		s.started = true
	}
	return nil
}

// ReactionDescriptor is the registry.ReactionDescriptor for kind
// "storedproc-postgres".
type ReactionDescriptor struct{}

func (ReactionDescriptor) Kind() string            { return "storedproc-postgres" }
func (ReactionDescriptor) ConfigVersion() int       { return 1 }
func (ReactionDescriptor) ConfigSchemaName() string { return "StoredProcPostgresReactionConfig" }
func (ReactionDescriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"dsn":{"type":"string"},"procedure":{"type":"string"}},"required":["dsn","procedure"]}`
}

func (ReactionDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	dsn := stringField(cfg, "dsn")
	proc := stringField(cfg, "procedure")
	if dsn == "" || proc == "" {
		return nil, apierrors.InvalidConfig("storedproc-postgres reaction " + id + " requires \"dsn\" and \"procedure\"")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apierrors.OperationFailed("storedproc-postgres", id, "open", err)
	}
	return NewStoredProcReaction(id, queryIDs, db, proc), nil
}

// StoredProcReaction calls a stored procedure once per added/updated/
// deleted row in every subscribed query's result delta.
type StoredProcReaction struct {
	id        string
	queryIDs  []string
	guard     *component.StatusGuard
	db        *sql.DB
	procedure string
	log       zerolog.Logger

	mu       sync.Mutex
	attached []attachedQuery
	cancel   context.CancelFunc
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

func NewStoredProcReaction(id string, queryIDs []string, db *sql.DB, procedure string) *StoredProcReaction {
	return &StoredProcReaction{
		id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil),
		db: db, procedure: procedure,
		log: logger.ForComponent("reaction", id),
	}
}

// AttachLogHook rebuilds the reaction's logger with the owning instance's
// log-registry hook.
func (r *StoredProcReaction) AttachLogHook(hook zerolog.Hook) {
	r.log = logger.ForComponent("reaction", r.id, hook)
}

func (r *StoredProcReaction) ID() string               { return r.id }
func (r *StoredProcReaction) Kind() string             { return "storedproc-postgres" }
func (r *StoredProcReaction) Status() component.Status { return r.guard.Status() }
func (r *StoredProcReaction) QueryIDs() []string       { return r.queryIDs }

func (r *StoredProcReaction) AttachQueryDeltas(queryID string, deltas <-chan component.ResultDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, attachedQuery{queryID: queryID, deltas: deltas})
}

func (r *StoredProcReaction) Start(ctx context.Context) error {
	if err := r.guard.Transition(component.Starting, ""); err != nil {
		return err
	}
	r.mu.Lock()
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	attached := append([]attachedQuery(nil), r.attached...)
	r.mu.Unlock()

	for _, a := range attached {
		go func(a attachedQuery) {
			for {
				select {
				case delta, ok := <-a.deltas:
					if !ok {
						return
					}
					r.callForDelta(delta)
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

func (r *StoredProcReaction) callForDelta(delta component.ResultDelta) {
	for _, row := range append(append(delta.Added, delta.Updated...), delta.Deleted...) {
		if _, err := r.db.Exec("CALL "+r.procedure+"($1)", row); err != nil {
			r.log.Warn().Err(err).Msg("stored procedure call failed")
		}
	}
}

func (r *StoredProcReaction) Stop(ctx context.Context) error {
	if err := r.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	_ = r.db.Close()
	return r.guard.Transition(component.Stopped, "")
}
