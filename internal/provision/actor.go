package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchday/pkg/kvstore"
	"matchday/pkg/problems"
	"matchday/pkg/retry"
	"matchday/pkg/tenants"
)

const statePrefix = "provision:state:"

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// State is the authoritative provisioning record for one tenant. Terminal
// states persist for audit, so the store entry never expires.
type State struct {
	TenantID    string                     `json:"tenant_id"`
	Status      string                     `json:"status"`
	CurrentStep string                     `json:"current_step,omitempty"`
	Checkpoints map[string]json.RawMessage `json:"checkpoints,omitempty"`
	Attempt     int                        `json:"attempt"`
	LastError   string                     `json:"last_error,omitempty"`
	Plan        Plan                       `json:"plan"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// StepError reports which step sank a run and how many attempts the retry
// executor spent on it.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// owners hands out the per-tenant mutex that makes each tenant's state
// machine a single logical owner. Entries are never removed; a tenant's
// mutex is tiny and provisioning happens once per tenant in the common case.
type owners struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (o *owners) owner(tenantID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	mu, ok := o.m[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		o.m[tenantID] = mu
	}
	return mu
}

// Service drives provisioning state machines. All mutations of one
// tenant's state run under that tenant's owner mutex; concurrent attempts
// fail fast with Conflict instead of queueing up.
type Service struct {
	store   kvstore.Store
	tenants tenants.Provider
	runner  StepRunner
	policy  retry.Policy
	owners  owners
	metrics *Metrics
	log     *zap.SugaredLogger
}

func NewService(store kvstore.Store, prov tenants.Provider, runner StepRunner, policy retry.Policy, metrics *Metrics, log *zap.SugaredLogger) *Service {
	if policy.Retryable == nil {
		policy.Retryable = problems.IsTransient
	}
	return &Service{
		store:   store,
		tenants: prov,
		runner:  runner,
		policy:  policy,
		owners:  owners{m: map[string]*sync.Mutex{}},
		metrics: metrics,
		log:     log,
	}
}

func (s *Service) loadState(ctx context.Context, tenantID string) (*State, error) {
	raw, err := s.store.Get(ctx, statePrefix+tenantID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, problems.Transient("provisioning state unavailable", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode provisioning state: %w", err)
	}
	return &st, nil
}

func (s *Service) saveState(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, statePrefix+st.TenantID, raw, 0)
}

// sideChannel mirrors status onto the tenant record for other subsystems.
// Advisory only: a write failure never fails the run.
func (s *Service) sideChannel(ctx context.Context, tenantID, status, reason string) {
	if err := s.tenants.SetProvisionState(ctx, tenantID, status, reason); err != nil {
		s.log.Warnw("tenant side channel write failed", "tenant", tenantID, "err", err)
	}
}

// Queue initializes the tenant's state to PENDING, or updates the plan if
// the tenant is still PENDING. Any later status makes this a no-op.
func (s *Service) Queue(ctx context.Context, tenantID string, plan Plan) (State, error) {
	mu := s.owners.owner(tenantID)
	if !mu.TryLock() {
		return State{}, problems.Conflict("provisioning already running")
	}
	defer mu.Unlock()
	return s.queueLocked(ctx, tenantID, plan)
}

func (s *Service) queueLocked(ctx context.Context, tenantID string, plan Plan) (State, error) {
	st, err := s.loadState(ctx, tenantID)
	if err != nil {
		return State{}, err
	}
	if st == nil {
		st = &State{
			TenantID:    tenantID,
			Status:      StatusPending,
			Plan:        plan,
			Checkpoints: map[string]json.RawMessage{},
		}
		if err := s.saveState(ctx, st); err != nil {
			return State{}, err
		}
		s.sideChannel(ctx, tenantID, StatusPending, "")
		s.log.Infow("tenant queued", "tenant", tenantID, "plan", plan.Name)
		return *st, nil
	}
	if st.Status == StatusPending {
		st.Plan = plan
		if err := s.saveState(ctx, st); err != nil {
			return State{}, err
		}
	}
	return *st, nil
}

// Run executes the plan from the current checkpoint set. COMPLETED is a
// no-op success; a checkpointed step is never re-executed.
func (s *Service) Run(ctx context.Context, tenantID string) (State, error) {
	mu := s.owners.owner(tenantID)
	if !mu.TryLock() {
		return State{}, problems.Conflict("provisioning already running")
	}
	defer mu.Unlock()
	return s.runLocked(ctx, tenantID)
}

func (s *Service) runLocked(ctx context.Context, tenantID string) (State, error) {
	st, err := s.loadState(ctx, tenantID)
	if err != nil {
		return State{}, err
	}
	if st == nil {
		return State{}, problems.NotFound("tenant not queued for provisioning")
	}
	if st.Status == StatusCompleted {
		return *st, nil
	}
	return s.execute(ctx, st)
}

// Retry re-runs a failed plan from its checkpoints, incrementing attempt.
func (s *Service) Retry(ctx context.Context, tenantID string) (State, error) {
	mu := s.owners.owner(tenantID)
	if !mu.TryLock() {
		return State{}, problems.Conflict("provisioning already running")
	}
	defer mu.Unlock()

	st, err := s.loadState(ctx, tenantID)
	if err != nil {
		return State{}, err
	}
	if st == nil {
		return State{}, problems.NotFound("tenant not queued for provisioning")
	}
	if st.Status == StatusCompleted {
		return *st, nil
	}
	st.Attempt++
	return s.execute(ctx, st)
}

// Status returns a read-only snapshot. No owner lock: the store read is
// atomic and a snapshot may lag a running transition by design.
func (s *Service) Status(ctx context.Context, tenantID string) (State, error) {
	st, err := s.loadState(ctx, tenantID)
	if err != nil {
		return State{}, err
	}
	if st == nil {
		return State{}, problems.NotFound("tenant not queued for provisioning")
	}
	return *st, nil
}

// execute walks the plan under the owner lock. A checkpoint is persisted
// after every successful step before advancing, so a crashed or failed run
// resumes instead of repeating work.
func (s *Service) execute(ctx context.Context, st *State) (State, error) {
	start := time.Now()
	st.Status = StatusRunning
	st.LastError = ""
	if st.Checkpoints == nil {
		st.Checkpoints = map[string]json.RawMessage{}
	}
	if err := s.saveState(ctx, st); err != nil {
		return *st, err
	}
	s.sideChannel(ctx, st.TenantID, StatusRunning, "")

	for _, step := range st.Plan.Steps {
		if _, done := st.Checkpoints[step.Name]; done {
			s.log.Debugw("step checkpointed, skipping", "tenant", st.TenantID, "step", step.Name)
			continue
		}
		st.CurrentStep = step.Name
		if err := s.saveState(ctx, st); err != nil {
			return *st, err
		}

		step := step
		var result json.RawMessage
		out := s.policy.Do(ctx, func(actx context.Context) error {
			if s.metrics != nil {
				s.metrics.StepAttempts.WithLabelValues(step.Name).Inc()
			}
			var err error
			result, err = s.runner.RunStep(actx, st.TenantID, step)
			return err
		})
		if out.Err != nil {
			st.Status = StatusFailed
			st.LastError = fmt.Sprintf("step %s: %v", step.Name, out.Err)
			if err := s.saveState(ctx, st); err != nil {
				s.log.Errorw("state save failed after step failure", "tenant", st.TenantID, "err", err)
			}
			s.sideChannel(ctx, st.TenantID, StatusFailed, st.LastError)
			s.observeRun("failed", start)
			s.log.Warnw("provisioning failed",
				"tenant", st.TenantID, "step", step.Name,
				"attempts", out.Attempts, "attempt", st.Attempt, "err", out.Err)
			return *st, &StepError{Step: step.Name, Attempts: out.Attempts, Err: out.Err}
		}
		st.Checkpoints[step.Name] = result
		if err := s.saveState(ctx, st); err != nil {
			return *st, err
		}
		s.log.Infow("step complete", "tenant", st.TenantID, "step", step.Name, "attempts", out.Attempts)
	}

	st.Status = StatusCompleted
	st.CurrentStep = ""
	if err := s.saveState(ctx, st); err != nil {
		return *st, err
	}
	s.sideChannel(ctx, st.TenantID, StatusCompleted, "")
	s.observeRun("completed", start)
	s.log.Infow("provisioning complete", "tenant", st.TenantID, "steps", len(st.Plan.Steps), "attempt", st.Attempt)
	return *st, nil
}

func (s *Service) observeRun(result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Runs.WithLabelValues(result).Inc()
	s.metrics.RunDuration.Observe(time.Since(start).Seconds())
}

// QueueAndRun performs queue, run, and one bounded retry cycle on
// transient failure under a single ownership window. This is what the
// internal queue endpoint exposes to callers like signup.
func (s *Service) QueueAndRun(ctx context.Context, tenantID string, plan Plan) (State, error) {
	mu := s.owners.owner(tenantID)
	if !mu.TryLock() {
		return State{}, problems.Conflict("provisioning already running")
	}
	defer mu.Unlock()

	if _, err := s.queueLocked(ctx, tenantID, plan); err != nil {
		return State{}, err
	}
	return s.runLocked(ctx, tenantID)
}
