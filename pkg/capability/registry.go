// Package capability implements the Capability Registry (spec §4.8): a
// single lookup for agents, tools, and models with health tracking,
// trust scoring, and per-tool agent allow/forbid lists.
package capability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// consecutiveFailureTrip is the number of consecutive execution
// failures a capability can take before its breaker opens and it is
// downgraded to health=unhealthy regardless of what the next health
// check would have reported.
const consecutiveFailureTrip = 5

// breakerOpenDuration bounds how long a tripped breaker stays open
// before allowing a single probe request through.
const breakerOpenDuration = 30 * time.Second

// Registry is the concrete Capability Registry: durable state in
// Postgres, one in-memory circuit breaker per capability id layered on
// top for the fast "skip dispatch" decision record_execution drives.
type Registry struct {
	db *database.Client

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New returns a Registry backed by db.
func New(db *database.Client) *Registry {
	return &Registry{db: db, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Register adds a new capability in active status with unknown health.
func (r *Registry) Register(ctx context.Context, rec *models.CapabilityRecord) (*models.CapabilityRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.CapabilityActive
	}
	if rec.Health == "" {
		rec.Health = models.HealthUnknown
	}
	if rec.TrustScore == 0 {
		rec.TrustScore = 0.5
	}

	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "marshal capabilities", err)
	}
	allowed, err := json.Marshal(rec.AllowedAgents)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "marshal allowed_agents", err)
	}
	forbidden, err := json.Marshal(rec.ForbiddenAgents)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, "marshal forbidden_agents", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO capabilities
			(id, kind, name, status, capabilities, allowed_agents, forbidden_agents, health, trust_score, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())`,
		rec.ID, rec.Kind, rec.Name, rec.Status, caps, allowed, forbidden, rec.Health, rec.TrustScore,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "insert capability", err)
	}

	r.ensureBreaker(rec.ID)
	return rec, nil
}

// Deactivate sets a capability's status to deprecated, removing it from
// dispatch consideration without deleting its history.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE capabilities SET status = $1, updated_at = now() WHERE id = $2`, models.CapabilityDeprecated, id)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "deactivate capability", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.New(apierrors.KindInvalidRequest, "capability not found: "+id)
	}
	return nil
}

// Get fetches one capability by id.
func (r *Registry) Get(ctx context.Context, id string) (*models.CapabilityRecord, error) {
	rows, err := r.db.Query(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query capability", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, apierrors.New(apierrors.KindInvalidRequest, "capability not found: "+id)
	}
	return scanCapability(rows)
}

// List returns every capability matching filter; zero-value fields in
// filter are treated as "don't filter on this".
func (r *Registry) List(ctx context.Context, filter models.CapabilityFilter) ([]*models.CapabilityRecord, error) {
	q := selectColumns + ` WHERE true`
	var args []any
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		q += fmtArg(" AND kind = $", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += fmtArg(" AND status = $", len(args))
	}
	q += ` ORDER BY name ASC`

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "query capabilities", err)
	}
	defer rows.Close()

	var out []*models.CapabilityRecord
	for rows.Next() {
		rec, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		if filter.Tag != "" && !containsTag(rec.Capabilities, filter.Tag) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CanUse reports whether agentID is permitted to invoke toolID:
// allowed_agents, if non-empty, is a whitelist; forbidden_agents is
// always a blacklist applied on top of it. A tool that isn't active is
// never usable regardless of the allow/forbid lists.
func (r *Registry) CanUse(ctx context.Context, agentID, toolID string) (bool, error) {
	tool, err := r.Get(ctx, toolID)
	if err != nil {
		return false, err
	}
	if tool.Status != models.CapabilityActive {
		return false, nil
	}
	for _, forbidden := range tool.ForbiddenAgents {
		if forbidden == agentID {
			return false, nil
		}
	}
	if len(tool.AllowedAgents) == 0 {
		return true, nil
	}
	for _, allowed := range tool.AllowedAgents {
		if allowed == agentID {
			return true, nil
		}
	}
	return false, nil
}

// RecordExecution folds one dispatch outcome into the capability's
// trust metrics and its circuit breaker. A breaker trip (5 consecutive
// failures) forces health=unhealthy immediately, ahead of the next
// periodic health check.
func (r *Registry) RecordExecution(ctx context.Context, id string, success bool, latencyMs float64) error {
	breaker := r.ensureBreaker(id)
	_, _ = breaker.Execute(func() (any, error) {
		if !success {
			return nil, apierrors.New(apierrors.KindInternal, "recorded failure")
		}
		return nil, nil
	})

	successDelta := int64(0)
	if success {
		successDelta = 1
	}

	var consecutiveFailures int
	err := r.db.QueryRow(ctx,
		`UPDATE capabilities SET
			total_executions = total_executions + 1,
			success_count = success_count + $1,
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
			avg_latency_ms = (avg_latency_ms * total_executions + $3) / (total_executions + 1),
			trust_score = LEAST(1.0, GREATEST(0.0, (success_count + $1)::float / (total_executions + 1))),
			updated_at = now()
		WHERE id = $4
		RETURNING consecutive_failures`,
		successDelta, success, latencyMs, id,
	).Scan(&consecutiveFailures)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "record capability execution", err)
	}

	if breaker.State() == gobreaker.StateOpen || consecutiveFailures >= consecutiveFailureTrip {
		if _, err := r.db.Exec(ctx, `UPDATE capabilities SET health = $1, updated_at = now() WHERE id = $2`, models.HealthUnhealthy, id); err != nil {
			return apierrors.Wrap(apierrors.KindInternal, "downgrade capability health", err)
		}
	}
	return nil
}

// SetHealth applies a periodic health check's verdict directly.
func (r *Registry) SetHealth(ctx context.Context, id string, health models.CapabilityHealth) error {
	tag, err := r.db.Exec(ctx, `UPDATE capabilities SET health = $1, updated_at = now() WHERE id = $2`, health, id)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "set capability health", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.New(apierrors.KindInvalidRequest, "capability not found: "+id)
	}
	return nil
}

func (r *Registry) ensureBreaker(id string) *gobreaker.CircuitBreaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureTrip
		},
	})
	r.breakers[id] = b
	return b
}
