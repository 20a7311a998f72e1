package uploadsvc

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/metrics"
	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/internal/transport"
)

// ReplicationRouter отвечает за выбор вторичного корня для офиса.
type ReplicationRouter struct {
	mu    sync.RWMutex
	roots map[string]string
}

// NewReplicationRouter создаёт маршрутизатор с начальным набором правил.
func NewReplicationRouter(rules ...config.ReplicationRule) *ReplicationRouter {
	r := &ReplicationRouter{roots: map[string]string{}}
	r.Add(rules...)
	return r
}

func officeKey(office string) string {
	return strings.ToLower(strings.TrimSpace(office))
}

// Set заменяет набор правил на новый.
func (r *ReplicationRouter) Set(rules []config.ReplicationRule) {
	r.mu.Lock()
	r.roots = map[string]string{}
	r.mu.Unlock()
	r.Add(rules...)
}

// Add добавляет правила, пропуская пустые; правило для известного офиса заменяет старое.
func (r *ReplicationRouter) Add(rules ...config.ReplicationRule) {
	if len(rules) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range rules {
		office := officeKey(rule.Office)
		root := strings.TrimSpace(rule.Root)
		if office == "" || root == "" {
			continue
		}
		r.roots[office] = root
	}
}

// Resolve returns the secondary root configured for office.
func (r *ReplicationRouter) Resolve(office string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.roots[officeKey(office)]
	return root, ok
}

// Rules returns the current rules ordered by office.
func (r *ReplicationRouter) Rules() []config.ReplicationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]config.ReplicationRule, 0, len(r.roots))
	for office, root := range r.roots {
		out = append(out, config.ReplicationRule{Office: office, Root: root})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Office < out[j].Office })
	return out
}

// Replicator mirrors committed objects to their secondary path. Copies run in
// the background and never affect the outcome of the commit that queued them.
type Replicator struct {
	adapter transport.Adapter
	router  *ReplicationRouter
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger

	wg sync.WaitGroup
}

func NewReplicator(adapter transport.Adapter, router *ReplicationRouter, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Replicator {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if m == nil {
		m = metrics.New()
	}
	return &Replicator{
		adapter: adapter,
		router:  router,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// Router exposes the rule set for runtime changes.
func (r *Replicator) Router() *ReplicationRouter {
	return r.router
}

// Submit schedules a copy of obj when the office has a rule. It reports
// whether a copy was scheduled.
func (r *Replicator) Submit(meta models.FileMeta, obj transport.ObjectHandle) bool {
	root, ok := r.router.Resolve(meta.Office)
	if !ok {
		return false
	}

	dst := SecondaryPath(root, meta, obj.Path)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.copy(ctx, obj.Path, dst)
	}()
	return true
}

func (r *Replicator) copy(ctx context.Context, src, dst string) {
	log := r.log.With().Str("src", src).Str("dst", dst).Logger()

	if _, err := r.adapter.Copy(ctx, src, dst); err != nil {
		r.metrics.ReplicationFailures.Inc()
		err = models.NewOpError("replicate", "", models.ErrPartialFailure, err)
		log.Error().Err(err).Msg("secondary copy failed")
		return
	}
	log.Info().Msg("secondary copy stored")
}

// Wait blocks until every scheduled copy has finished.
func (r *Replicator) Wait() {
	r.wg.Wait()
}
