package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

const componentNameGovernor = "governor"

// Governor is the concrete Resource & Quota Governor. It satisfies
// models.ResourceGovernor (the narrow Admit/Release view every
// RuntimeContext carries) and additionally exposes Wrap, the full
// spec §4.9 contract: timeout enforcement plus quota admission around
// one externally-costly call.
//
// Admission is two independent gates, mirroring the two ways spec §4.9
// describes the governor acting: a per-request-type concurrency
// ceiling (golang.org/x/sync/semaphore, the same primitive the
// teacher's parallel step dispatch uses for DAG-independent steps),
// one pool per resource name so a burst of cheap llm_tokens accounting
// calls can never starve llm_requests admission slots, and a
// Redis-backed per-resource quota counter shared across every worker
// pod.
type Governor struct {
	redis   *redis.Client
	journal models.EventJournal
	quota   *config.QuotaConfig
	cfg     *config.GovernorConfig

	semsMu sync.Mutex
	sems   map[string]*semaphore.Weighted
}

// New returns a Governor backed by rdb for quota counters and journal
// for timeout/denial observability.
func New(rdb *redis.Client, journal models.EventJournal, quota *config.QuotaConfig, cfg *config.GovernorConfig) *Governor {
	return &Governor{
		redis:   rdb,
		journal: journal,
		quota:   quota,
		cfg:     cfg,
		sems:    make(map[string]*semaphore.Weighted),
	}
}

// semFor returns the concurrency ceiling for resource, creating it on
// first use. Each resource gets its own pool sized cfg.MaxConcurrentTasks.
func (g *Governor) semFor(resource string) *semaphore.Weighted {
	g.semsMu.Lock()
	defer g.semsMu.Unlock()
	s, ok := g.sems[resource]
	if !ok {
		s = semaphore.NewWeighted(int64(g.cfg.MaxConcurrentTasks))
		g.sems[resource] = s
	}
	return s
}

// Admit satisfies models.ResourceGovernor. It first tries resource's
// concurrency ceiling (non-blocking — a request that can't get a slot
// immediately is denied, not queued, consistent with cooperative
// rather than preemptive cancellation), then checks every bounded
// period configured for resource against cost.
func (g *Governor) Admit(ctx context.Context, resource string, cost float64) error {
	sem := g.semFor(resource)
	if !sem.TryAcquire(1) {
		return apierrors.New(apierrors.KindQuotaExceeded, fmt.Sprintf("concurrency limit reached for %s", resource)).
			WithReasonCode("quota_exceeded_" + resource)
	}

	if err := g.checkQuota(ctx, config.QuotaResource(resource), cost); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

// Release satisfies models.ResourceGovernor. It always frees the
// concurrency slot Admit acquired; for the concurrent_tasks gauge
// resource it also decrements the shared counter, since that counter
// tracks in-flight work rather than a rate that should simply expire.
func (g *Governor) Release(ctx context.Context, resource string, cost float64) {
	g.semFor(resource).Release(1)
	if config.QuotaResource(resource) == config.ResourceConcurrent {
		g.redis.DecrBy(ctx, g.key(config.QuotaResource(resource), config.PeriodTotal), int64(cost))
	}
}

// checkQuota increments every bounded period's counter by cost and
// rolls all of them back the moment one period is found over limit,
// so a denied request never leaves a partial charge behind. Unbounded
// periods (no limit configured) are skipped entirely — resource isn't
// in the quota config at all (e.g. the plan executor's internal "step"
// admission) means no quota applies, only the concurrency ceiling
// above.
func (g *Governor) checkQuota(ctx context.Context, resource config.QuotaResource, cost float64) error {
	q := g.quota.Get(resource)
	periods := []struct {
		period config.QuotaPeriod
		ttl    time.Duration
	}{
		{config.PeriodMinute, time.Minute},
		{config.PeriodHour, time.Hour},
		{config.PeriodDay, 24 * time.Hour},
		{config.PeriodTotal, 0},
	}

	var charged []string
	for _, p := range periods {
		if resource == config.ResourceConcurrent && p.period != config.PeriodTotal {
			continue
		}
		limit, bounded := q.Limit(p.period)
		if !bounded {
			continue
		}

		key := g.key(resource, p.period)
		newVal, err := g.redis.IncrByFloat(ctx, key, cost).Result()
		if err != nil {
			g.rollback(ctx, charged, cost)
			return apierrors.Wrap(apierrors.KindInternal, "governor quota increment", err)
		}
		charged = append(charged, key)
		if p.ttl > 0 {
			g.redis.Expire(ctx, key, p.ttl)
		}

		if newVal > float64(limit) {
			g.rollback(ctx, charged, cost)
			_ = g.journal.Append(ctx, &models.ExecutionEvent{
				Stage:          models.StageExecution,
				ComponentRole:  componentNameGovernor,
				ComponentName:  componentNameGovernor,
				DecisionSource: models.DecisionSourceRule,
				Status:         models.EventStatusWarn,
				InputSummary:   fmt.Sprintf("resource=%s period=%s cost=%v", resource, p.period, cost),
				OutputSummary:  "quota exceeded",
			})
			return apierrors.New(apierrors.KindQuotaExceeded, fmt.Sprintf("quota exceeded: %s.%s", resource, p.period)).
				WithReasonCode("quota_exceeded_" + string(resource))
		}
	}
	return nil
}

func (g *Governor) rollback(ctx context.Context, keys []string, cost float64) {
	for _, k := range keys {
		g.redis.IncrByFloat(ctx, k, -cost)
	}
}

// key builds the quota.<resource>.<period> key space spec §6 names,
// bucketed so per_minute/per_hour/per_day counters reset on their own
// window rather than growing forever; total has no bucket.
func (g *Governor) key(resource config.QuotaResource, period config.QuotaPeriod) string {
	switch period {
	case config.PeriodMinute:
		return fmt.Sprintf("quota.%s.per_minute.%d", resource, time.Now().Unix()/60)
	case config.PeriodHour:
		return fmt.Sprintf("quota.%s.per_hour.%d", resource, time.Now().Unix()/3600)
	case config.PeriodDay:
		return fmt.Sprintf("quota.%s.per_day.%d", resource, time.Now().Unix()/86400)
	default:
		return fmt.Sprintf("quota.%s.total", resource)
	}
}

// Wrap is the full spec §4.9 contract beyond the narrow
// models.ResourceGovernor view: admit, enforce a wall-clock timeout
// via cooperative cancellation around fn, emit a timeout event if fn's
// context expires first, then release. timeout of zero falls back to
// cfg.DefaultTimeout.
func (g *Governor) Wrap(ctx context.Context, rc *models.RuntimeContext, resource string, cost float64, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := g.Admit(ctx, resource, cost); err != nil {
		return err
	}
	defer g.Release(ctx, resource, cost)

	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(wctx)
	if err != nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
		_ = g.journal.Append(ctx, &models.ExecutionEvent{
			WorkflowID:     rc.WorkflowID,
			SessionID:      rc.SessionID,
			Stage:          models.StageExecution,
			ComponentRole:  componentNameGovernor,
			ComponentName:  componentNameGovernor,
			DecisionSource: models.DecisionSourceRule,
			Status:         models.EventStatusError,
			InputSummary:   fmt.Sprintf("resource=%s timeout=%s", resource, timeout),
			OutputSummary:  "timeout",
		})
		return apierrors.New(apierrors.KindModelTimeout, "operation exceeded governor timeout").
			WithReasonCode("timeout")
	}
	return err
}

// AdmitSandbox denies a sandboxed code step up front when it asks for
// more memory than the governor's sandbox cap allows, rather than
// starting the sandbox and killing it mid-run for a limit nobody
// checked first.
func (g *Governor) AdmitSandbox(requestedMemoryMB int) error {
	if requestedMemoryMB > g.cfg.SandboxMemoryMB {
		return apierrors.New(apierrors.KindSandboxViolation,
			fmt.Sprintf("requested memory %dMB exceeds governor cap %dMB", requestedMemoryMB, g.cfg.SandboxMemoryMB))
	}
	return nil
}
