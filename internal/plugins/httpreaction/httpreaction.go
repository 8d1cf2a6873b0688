// Package httpreaction implements the "http" and "http-adaptive" reaction
// kinds: POST each result delta row to a configured URL, optionally
// templated per spec.md §6.1's handlebars-style body, with the adaptive
// variant adding retry-with-backoff.
//
// Grounded on the teacher's internal/plugins/webhook.go HTTP dispatch
// shape (client reuse, timeout, status-code handling).
package httpreaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/config"
	"github.com/drasi-project/drasi-server/internal/logger"
	"github.com/rs/zerolog"
)

// Config is shared by both "http" and "http-adaptive".
type Config struct {
	URL           string
	Method        string
	BodyTemplate  string // optional; when empty, the row is JSON-marshaled as-is
	Adaptive      bool
	MaxRetries    int
	InitialBackoff time.Duration
}

// Descriptor is the registry.ReactionDescriptor shared by kind "http" and
// kind "http-adaptive", distinguished only by the Adaptive field baked
// into each instance at construction.
type Descriptor struct {
	Adaptive bool
}

func (d Descriptor) Kind() string {
	if d.Adaptive {
		return "http-adaptive"
	}
	return "http"
}
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "HTTPReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"url":{"type":"string"},"method":{"type":"string"},"bodyTemplate":{"type":"string"},"maxRetries":{"type":"integer"}},"required":["url"]}`
}

func (d Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return nil, apierrors.InvalidConfig(d.Kind() + " reaction " + id + " requires \"url\"")
	}
	method, _ := cfg["method"].(string)
	if method == "" {
		method = http.MethodPost
	}
	bodyTemplate, _ := cfg["bodyTemplate"].(string)
	if bodyTemplate != "" {
		if err := config.ValidateTemplate(id, bodyTemplate); err != nil {
			return nil, err
		}
	}
	maxRetries := 0
	if v, ok := cfg["maxRetries"].(int); ok {
		maxRetries = v
	}
	c := Config{URL: url, Method: method, BodyTemplate: bodyTemplate, Adaptive: d.Adaptive, MaxRetries: maxRetries, InitialBackoff: 200 * time.Millisecond}
	return NewReaction(id, queryIDs, c), nil
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Reaction POSTs each added/updated/deleted row individually.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard
	cfg      Config
	client   *http.Client
	log      zerolog.Logger

	mu       sync.Mutex
	attached []attachedQuery
	cancel   context.CancelFunc
}

func NewReaction(id string, queryIDs []string, cfg Config) *Reaction {
	return &Reaction{
		id:       id,
		queryIDs: queryIDs,
		guard:    component.NewStatusGuard(id, nil),
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.ForComponent("reaction", id),
	}
}

// AttachLogHook rebuilds the reaction's logger with the owning instance's
// log-registry hook.
func (r *Reaction) AttachLogHook(hook zerolog.Hook) {
	r.log = logger.ForComponent("reaction", r.id, hook)
}

func (r *Reaction) ID() string { return r.id }
func (r *Reaction) Kind() string {
	if r.cfg.Adaptive {
		return "http-adaptive"
	}
	return "http"
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
					r.deliver(runCtx, a.queryID, delta)
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) deliver(ctx context.Context, queryID string, delta component.ResultDelta) {
	rows := make([]component.ResultRow, 0, len(delta.Added)+len(delta.Updated)+len(delta.Deleted))
	rows = append(rows, delta.Added...)
	rows = append(rows, delta.Updated...)
	rows = append(rows, delta.Deleted...)

	for _, row := range rows {
		body, err := r.renderBody(queryID, row)
		if err != nil {
			r.log.Warn().Err(err).Str("query_id", queryID).Msg("failed to render http reaction body")
			continue
		}
		if err := r.post(ctx, body); err != nil {
			r.log.Warn().Err(err).Str("query_id", queryID).Msg("http reaction delivery failed")
		}
	}
}

func (r *Reaction) renderBody(queryID string, row component.ResultRow) ([]byte, error) {
	if r.cfg.BodyTemplate == "" {
		return json.Marshal(row)
	}
	rendered, err := config.RenderTemplate(r.id, r.cfg.BodyTemplate, map[string]interface{}{"queryId": queryID, "row": row})
	if err != nil {
		return nil, err
	}
	return []byte(rendered), nil
}

// post sends one HTTP request, retrying with exponential backoff when
// Adaptive is set and the response status is 5xx or the request errors.
func (r *Reaction) post(ctx context.Context, body []byte) error {
	backoff := r.cfg.InitialBackoff
	attempts := 1
	if r.cfg.Adaptive && r.cfg.MaxRetries > 0 {
		attempts = r.cfg.MaxRetries + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, r.cfg.Method, r.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastErr = fmt.Errorf("http reaction received status %d", resp.StatusCode)
		}

		if i < attempts-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
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
