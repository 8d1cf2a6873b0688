// Package profiler implements the "profiler" reaction kind: records
// throughput of the result deltas it observes, and the interval between
// consecutive deltas per query, as Prometheus metrics, without producing
// any external side effect of its own.
//
// Grounded on the teacher's internal/metrics package (prometheus counter/
// histogram registration pattern), generalized from HTTP-request metrics
// to per-query delta metrics.
package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drasi-project/drasi-server/internal/component"
)

var (
	deltasTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drasi_profiler_deltas_total",
		Help: "Total result delta rows observed by a profiler reaction, by query and change kind.",
	}, []string{"query_id", "kind"})

	deltaLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drasi_profiler_delta_interval_seconds",
		Help:    "Time between consecutive result deltas observed by a profiler reaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_id"})
)

func init() {
	prometheus.MustRegister(deltasTotal, deltaLatency)
}

// Descriptor is the registry.ReactionDescriptor for kind "profiler".
type Descriptor struct{}

func (Descriptor) Kind() string            { return "profiler" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "ProfilerReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	return NewReaction(id, queryIDs), nil
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Reaction observes result deltas and records their throughput and
// inter-delta interval, emitting no side effect beyond the recorded metrics.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard

	mu       sync.Mutex
	attached []attachedQuery
	lastSeen map[string]time.Time
	cancel   context.CancelFunc
}

func NewReaction(id string, queryIDs []string) *Reaction {
	return &Reaction{id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil), lastSeen: make(map[string]time.Time)}
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return "profiler" }
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
					r.record(a.queryID, delta)
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) record(queryID string, delta component.ResultDelta) {
	deltasTotal.WithLabelValues(queryID, "added").Add(float64(len(delta.Added)))
	deltasTotal.WithLabelValues(queryID, "updated").Add(float64(len(delta.Updated)))
	deltasTotal.WithLabelValues(queryID, "deleted").Add(float64(len(delta.Deleted)))

	now := time.Now()
	r.mu.Lock()
	if prev, ok := r.lastSeen[queryID]; ok {
		deltaLatency.WithLabelValues(queryID).Observe(now.Sub(prev).Seconds())
	}
	r.lastSeen[queryID] = now
	r.mu.Unlock()
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
