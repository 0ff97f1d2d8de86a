package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
	"github.com/teranos/staffsync/sched"
)

// businessIDSequenceKey is the kv counter used when a candidate arrives
// without a business id.
const businessIDSequenceKey = "BUSINESS_ID_SEQ"

// SubStep records the outcome of one best-effort step inside a handler.
// Sub-steps run in a fixed order, fail independently, and are aggregated
// into the job result instead of being swallowed.
type SubStep struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CreateResult is the persisted outcome of a createFromCandidate job.
type CreateResult struct {
	PrincipalID string    `json:"principalId"`
	BusinessID  string    `json:"businessId"`
	Email       string    `json:"email"`
	Existing    bool      `json:"existing,omitempty"`
	SubSteps    []SubStep `json:"subSteps,omitempty"`
}

// OffboardResult is the persisted outcome of a disableUser/deleteUser job.
type OffboardResult struct {
	PrincipalID string    `json:"principalId"`
	ResolvedBy  string    `json:"resolvedBy"`
	Action      string    `json:"action"`
	SubSteps    []SubStep `json:"subSteps,omitempty"`
}

// HandlerDeps are the collaborators shared by all lifecycle handlers.
type HandlerDeps struct {
	Directory DirectoryClient
	HR        HRClient
	Notifier  Notifier
	KV        *sched.KV
	// Cooldown is written after every successful mutation so webhook echoes
	// from the directory reacting to our own change are absorbed.
	Cooldown time.Duration
	// EmailDomain is the default domain for derived addresses when the
	// payload carries neither an email nor a domain.
	EmailDomain string
	Log         *zap.SugaredLogger
}

func (d *HandlerDeps) logger() *zap.SugaredLogger {
	if d.Log == nil {
		return zap.NewNop().Sugar()
	}
	return d.Log
}

// setCooldown marks the correlation id as recently mutated. Failure to
// write the marker is logged only: the mutation already happened and a
// missing marker merely risks one redundant dedup round trip.
func (d *HandlerDeps) setCooldown(correlationID string) {
	if d.Cooldown <= 0 {
		return
	}
	if err := d.KV.SetCooldown(correlationID, time.Now().Add(d.Cooldown)); err != nil {
		d.logger().Warnw("Failed to set cooldown marker",
			"correlation_id", correlationID, "error", err)
	}
}

// RegisterHandlers wires all lifecycle handlers into the registry.
func RegisterHandlers(registry *sched.Registry, deps *HandlerDeps) {
	registry.Register(&CreateFromCandidateHandler{deps: deps})
	registry.Register(&DisableUserHandler{deps: deps})
	registry.Register(&DeleteUserHandler{deps: deps})
}

// CreateFromCandidateHandler provisions a directory principal from an HR
// candidate record ahead of the join date.
type CreateFromCandidateHandler struct {
	deps *HandlerDeps
}

func (h *CreateFromCandidateHandler) Type() sched.JobType {
	return sched.JobTypeCreateFromCandidate
}

func (h *CreateFromCandidateHandler) Execute(ctx context.Context, job *sched.Job) (json.RawMessage, error) {
	var payload CreateFromCandidatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, sched.Fatal(errors.Wrap(err, "malformed createFromCandidate payload"))
	}
	if err := payload.Validate(); err != nil {
		return nil, sched.Fatal(err)
	}
	log := h.deps.logger().With("correlation_id", payload.CorrelationID, "job_id", job.ID)

	// Idempotent pre-check: a retry after a partially applied earlier
	// attempt must not create a second principal.
	if existing, err := h.findExisting(ctx, &payload); err != nil {
		return nil, errors.Wrap(err, "failed idempotency pre-check")
	} else if existing != nil {
		log.Infow("Principal already exists, treating create as done",
			"principal_id", existing.ID)
		h.deps.setCooldown(payload.CorrelationID)
		return mustMarshal(CreateResult{
			PrincipalID: existing.ID,
			BusinessID:  existing.BusinessID,
			Email:       existing.Email,
			Existing:    true,
		}), nil
	}

	businessID := payload.BusinessID
	if businessID == "" {
		seq, err := h.deps.KV.NextSequence(businessIDSequenceKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to allocate business id")
		}
		businessID = fmt.Sprintf("E%05d", seq)
		log.Infow("Allocated fallback business id", "business_id", businessID)
	}

	email := payload.Email
	if email == "" {
		email = deriveEmail(payload.FirstName, payload.LastName, payload.Domain, h.deps.EmailDomain)
	}

	user, err := h.deps.Directory.CreateUser(ctx, NewDirectoryUser{
		FirstName:    payload.FirstName,
		LastName:     payload.LastName,
		Email:        email,
		BusinessID:   businessID,
		EmployeeType: payload.EmployeeType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create directory principal")
	}
	log.Infow("Created directory principal",
		"principal_id", user.ID, "business_id", businessID, "email", email)

	// HR write-back is best-effort once the principal exists: retrying the
	// whole job would hit the idempotent pre-check and skip the create, so
	// a failed write-back is recorded rather than failing the job.
	steps := []SubStep{
		runSubStep("hr_writeback", func() error {
			return h.deps.HR.UpdateCandidateFields(ctx, payload.CorrelationID, map[string]string{
				"businessId": businessID,
				"email":      email,
			})
		}, log),
	}

	h.deps.setCooldown(payload.CorrelationID)
	h.deps.Notifier.NotifySuccess(string(job.Type), payload.CorrelationID,
		fmt.Sprintf("provisioned principal %s (%s)", user.ID, email))

	return mustMarshal(CreateResult{
		PrincipalID: user.ID,
		BusinessID:  businessID,
		Email:       email,
		SubSteps:    steps,
	}), nil
}

// findExisting looks for a principal created by an earlier attempt.
func (h *CreateFromCandidateHandler) findExisting(ctx context.Context, payload *CreateFromCandidatePayload) (*DirectoryUser, error) {
	if payload.BusinessID != "" {
		if user, err := h.deps.Directory.FindByBusinessID(ctx, payload.BusinessID); err != nil {
			return nil, err
		} else if user != nil {
			return user, nil
		}
	}
	if payload.Email != "" {
		if user, err := h.deps.Directory.FindByEmail(ctx, payload.Email); err != nil {
			return nil, err
		} else if user != nil {
			return user, nil
		}
	}
	return nil, nil
}

// DisableUserHandler disables a directory principal on the exit date and
// runs the compensating cleanup steps.
type DisableUserHandler struct {
	deps *HandlerDeps
}

func (h *DisableUserHandler) Type() sched.JobType {
	return sched.JobTypeDisableUser
}

func (h *DisableUserHandler) Execute(ctx context.Context, job *sched.Job) (json.RawMessage, error) {
	payload, user, resolvedBy, err := resolveOffboardTarget(ctx, h.deps, job)
	if err != nil {
		return nil, err
	}
	log := h.deps.logger().With("correlation_id", payload.CorrelationID,
		"job_id", job.ID, "principal_id", user.ID)

	// Primary mutation. Everything after it is best-effort.
	if err := h.deps.Directory.DisableUser(ctx, user.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to disable principal %s", user.ID)
	}
	log.Infow("Disabled directory principal", "resolved_by", resolvedBy)

	steps := []SubStep{
		runSubStep("revoke_sessions", func() error {
			return h.deps.Directory.RevokeSessions(ctx, user.ID)
		}, log),
		runSubStep("remove_group_memberships", func() error {
			return h.deps.Directory.RemoveFromGroups(ctx, user.ID)
		}, log),
		runSubStep("clear_manager", func() error {
			return h.deps.Directory.ClearManager(ctx, user.ID)
		}, log),
	}

	h.deps.setCooldown(payload.CorrelationID)
	h.deps.Notifier.NotifySuccess(string(job.Type), payload.CorrelationID,
		fmt.Sprintf("disabled principal %s", user.ID))

	return mustMarshal(OffboardResult{
		PrincipalID: user.ID,
		ResolvedBy:  resolvedBy,
		Action:      "disabled",
		SubSteps:    steps,
	}), nil
}

// DeleteUserHandler removes a directory principal entirely.
type DeleteUserHandler struct {
	deps *HandlerDeps
}

func (h *DeleteUserHandler) Type() sched.JobType {
	return sched.JobTypeDeleteUser
}

func (h *DeleteUserHandler) Execute(ctx context.Context, job *sched.Job) (json.RawMessage, error) {
	payload, user, resolvedBy, err := resolveOffboardTarget(ctx, h.deps, job)
	if err != nil {
		return nil, err
	}
	log := h.deps.logger().With("correlation_id", payload.CorrelationID,
		"job_id", job.ID, "principal_id", user.ID)

	// Sessions are revoked before deletion; afterwards there is no
	// principal left to revoke against.
	steps := []SubStep{
		runSubStep("revoke_sessions", func() error {
			return h.deps.Directory.RevokeSessions(ctx, user.ID)
		}, log),
	}

	if err := h.deps.Directory.DeleteUser(ctx, user.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to delete principal %s", user.ID)
	}
	log.Infow("Deleted directory principal", "resolved_by", resolvedBy)

	h.deps.setCooldown(payload.CorrelationID)
	h.deps.Notifier.NotifySuccess(string(job.Type), payload.CorrelationID,
		fmt.Sprintf("deleted principal %s", user.ID))

	return mustMarshal(OffboardResult{
		PrincipalID: user.ID,
		ResolvedBy:  resolvedBy,
		Action:      "deleted",
		SubSteps:    steps,
	}), nil
}

// resolveOffboardTarget decodes an offboard payload and resolves the target
// principal by three fallback strategies: business id, then email, then the
// username hint. A principal that cannot be found is a fatal error; no
// amount of retrying conjures a missing identity.
func resolveOffboardTarget(ctx context.Context, deps *HandlerDeps, job *sched.Job) (*OffboardPayload, *DirectoryUser, string, error) {
	var payload OffboardPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, nil, "", sched.Fatal(errors.Wrapf(err, "malformed %s payload", job.Type))
	}
	if err := payload.Validate(); err != nil {
		return nil, nil, "", sched.Fatal(err)
	}

	if payload.BusinessID != "" {
		user, err := deps.Directory.FindByBusinessID(ctx, payload.BusinessID)
		if err != nil {
			return nil, nil, "", errors.Wrap(err, "failed to resolve principal by business id")
		}
		if user != nil {
			return &payload, user, "businessId", nil
		}
	}
	if payload.Email != "" {
		user, err := deps.Directory.FindByEmail(ctx, payload.Email)
		if err != nil {
			return nil, nil, "", errors.Wrap(err, "failed to resolve principal by email")
		}
		if user != nil {
			return &payload, user, "email", nil
		}
	}
	if payload.PrincipalHint != "" {
		user, err := deps.Directory.FindByUsername(ctx, payload.PrincipalHint)
		if err != nil {
			return nil, nil, "", errors.Wrap(err, "failed to resolve principal by username hint")
		}
		if user != nil {
			return &payload, user, "principalHint", nil
		}
	}

	return nil, nil, "", errors.Wrapf(errors.ErrNotFound,
		"no directory principal found for correlation id %s", payload.CorrelationID)
}

// runSubStep executes one best-effort step and records its outcome. A
// failed sub-step is logged and reported in the job result, never fatal to
// the job once the primary mutation succeeded. The error text is redacted
// before recording: sub-step outcomes persist in the jobs table via the
// job result.
func runSubStep(name string, fn func() error, log *zap.SugaredLogger) SubStep {
	if err := fn(); err != nil {
		redacted := Redact(err.Error())
		log.Warnw("Cleanup sub-step failed", "step", name, "error", redacted)
		return SubStep{Name: name, OK: false, Error: redacted}
	}
	return SubStep{Name: name, OK: true}
}

// deriveEmail builds first.last@domain from the candidate name, preferring
// the payload's domain over the configured default.
func deriveEmail(firstName, lastName, payloadDomain, defaultDomain string) string {
	domain := payloadDomain
	if domain == "" {
		domain = defaultDomain
	}
	local := fmt.Sprintf("%s.%s", sanitizeEmailPart(firstName), sanitizeEmailPart(lastName))
	return fmt.Sprintf("%s@%s", local, domain)
}

// sanitizeEmailPart lowercases a name fragment and strips whitespace and
// characters that are not safe in an address local part.
func sanitizeEmailPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}
