// Package logreaction implements the "log" reaction kind (spec.md §6.1):
// every result delta row is written to the structured log, optionally
// rendered through a {{...}} body template first. The simplest reaction in
// the tree, and the usual first stop when debugging a query.
package logreaction

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/config"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Descriptor is the registry.ReactionDescriptor for kind "log".
type Descriptor struct{}

func (Descriptor) Kind() string             { return "log" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "LogReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"template":{"type":"string"},"level":{"type":"string"}}}`
}

func (d Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	tmpl, _ := cfg["template"].(string)
	if tmpl != "" {
		if err := config.ValidateTemplate(id, tmpl); err != nil {
			return nil, err
		}
	}
	level, _ := cfg["level"].(string)
	return NewReaction(id, queryIDs, tmpl, level), nil
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Reaction logs each delta row at the configured level.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard
	template string
	level    zerolog.Level
	log      zerolog.Logger

	mu       sync.Mutex
	attached []attachedQuery
	cancel   context.CancelFunc
}

// NewReaction constructs a Reaction. template may be empty (rows are
// JSON-marshaled as-is); level defaults to info when empty or unparsable.
func NewReaction(id string, queryIDs []string, template, level string) *Reaction {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Reaction{
		id:       id,
		queryIDs: queryIDs,
		guard:    component.NewStatusGuard(id, nil),
		template: template,
		level:    lvl,
		log:      logger.ForComponent("reaction", id),
	}
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return "log" }

// AttachLogHook rebuilds the reaction's logger with the owning instance's
// log-registry hook, so emitted rows also land in the component ring buffer.
func (r *Reaction) AttachLogHook(hook zerolog.Hook) {
	r.log = logger.ForComponent("reaction", r.id, hook)
}
func (r *Reaction) Status() component.Status { return r.guard.Status() }
func (r *Reaction) QueryIDs() []string       { return r.queryIDs }

func (r *Reaction) AttachQueryDeltas(queryID string, deltas <-chan component.ResultDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, attachedQuery{queryID: queryID, deltas: deltas})
}

func (r *Reaction) Start(ctx context.Context) error {
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
					r.emit(a.queryID, delta)
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) emit(queryID string, delta component.ResultDelta) {
	r.emitRows(queryID, "added", delta.Added)
	r.emitRows(queryID, "updated", delta.Updated)
	r.emitRows(queryID, "deleted", delta.Deleted)
}

func (r *Reaction) emitRows(queryID, op string, rows []component.ResultRow) {
	for _, row := range rows {
		line, err := r.render(queryID, op, row)
		if err != nil {
			r.log.Warn().Err(err).Str("query_id", queryID).Msg("failed to render log reaction template")
			continue
		}
		r.log.WithLevel(r.level).Str("query_id", queryID).Str("op", op).Msg(line)
	}
}

func (r *Reaction) render(queryID, op string, row component.ResultRow) (string, error) {
	if r.template == "" {
		payload, err := json.Marshal(row)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}
	return config.RenderTemplate(r.id, r.template, map[string]interface{}{
		"queryId": queryID,
		"op":      op,
		"row":     row,
	})
}

func (r *Reaction) Stop(ctx context.Context) error {
	if err := r.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	return r.guard.Transition(component.Stopped, "")
}
