// Package provisioning executes allowed provisioning plans against the identity
// and profile collaborators. It is the caller of the policy and therefore owns
// compensation when the second side effect fails after the first succeeded.
package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"semaphore/provisioning/internal/crypto"
	"semaphore/provisioning/internal/policy"
)

const (
	OutcomeOK          = "OK"
	compensateTimeout  = 10 * time.Second
	idempotencyKeyBase = "provisioning:idempotency:"
)

type Deps struct {
	Accounts   Accounts
	Profiles   Profiles
	Replays    Replays
	Metrics    Recorder
	Logger     *zap.Logger
	BcryptCost int
}

type Provisioner struct {
	accounts   Accounts
	profiles   Profiles
	replays    Replays
	metrics    Recorder
	logger     *zap.Logger
	bcryptCost int
}

func New(deps Deps) *Provisioner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		accounts:   deps.Accounts,
		profiles:   deps.Profiles,
		replays:    deps.Replays,
		metrics:    deps.Metrics,
		logger:     logger.Named("provisioning"),
		bcryptCost: deps.BcryptCost,
	}
}

type Result struct {
	UID      string `json:"uid"`
	Message  string `json:"message"`
	Replayed bool   `json:"-"`
}

type replayRecord struct {
	Fingerprint string `json:"fingerprint"`
	Result      Result `json:"result"`
}

// CreateSchoolAdmin provisions a schoolAdmin account. The role in req is ignored.
func (p *Provisioner) CreateSchoolAdmin(ctx context.Context, caller policy.Caller, req policy.AccountRequest, idempotencyKey string) (Result, error) {
	req.Role = policy.RoleSchoolAdmin
	return p.provision(ctx, policy.EntryAdminCreate, caller, req, idempotencyKey)
}

// CreateUser provisions a teacher, parent or student account.
func (p *Provisioner) CreateUser(ctx context.Context, caller policy.Caller, req policy.AccountRequest, idempotencyKey string) (Result, error) {
	return p.provision(ctx, policy.EntryUserCreate, caller, req, idempotencyKey)
}

// BootstrapSuperAdmin creates a superAdmin account outside the role policy. It is
// reachable only from the operator CLI, never from a request surface.
func (p *Provisioner) BootstrapSuperAdmin(ctx context.Context, email, password string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := policy.ValidateCredentials(email, password); err != nil {
		return Result{}, err
	}
	plan := policy.Plan{
		Role:    policy.RoleSuperAdmin,
		Email:   email,
		Claims:  policy.BuildClaims(policy.RoleSuperAdmin),
		Profile: policy.ProfileRecord{Email: email, Role: policy.RoleSuperAdmin},
	}
	logger := p.logger.With(zap.String("role", string(policy.RoleSuperAdmin)))
	result, err := p.execute(ctx, logger, plan, password)
	if err != nil {
		return Result{}, policy.Unknown(err)
	}
	logger.Info("superAdmin bootstrapped", zap.String("uid", result.UID), zap.String("email", email))
	return result, nil
}

func (p *Provisioner) provision(ctx context.Context, entry policy.Entry, caller policy.Caller, req policy.AccountRequest, idempotencyKey string) (Result, error) {
	logger := p.logger.With(
		zap.String("entry", string(entry)),
		zap.String("caller", caller.UID),
		zap.String("role", string(req.Role)),
	)

	plan, err := policy.BuildPlan(entry, caller, req)
	if err != nil {
		logger.Info("provisioning denied",
			zap.String("kind", string(policy.KindOf(err))),
			zap.String("reason", policy.MessageOf(err)),
		)
		p.observe(entry, string(policy.KindOf(err)))
		return Result{}, err
	}

	replayKey, fingerprint, replayed, err := p.lookupReplay(ctx, logger, entry, caller, plan, idempotencyKey)
	if err != nil {
		p.observe(entry, string(policy.KindOf(err)))
		return Result{}, err
	}
	if replayed != nil {
		logger.Info("provisioning replayed", zap.String("uid", replayed.UID))
		p.observe(entry, OutcomeOK)
		return *replayed, nil
	}

	result, err := p.execute(ctx, logger, plan, req.Password)
	if err != nil {
		p.observe(entry, string(policy.KindUnknown))
		return Result{}, policy.Unknown(err)
	}

	if replayKey != "" {
		p.storeReplay(ctx, logger, replayKey, replayRecord{Fingerprint: fingerprint, Result: result})
	}
	logger.Info("account provisioned", zap.String("uid", result.UID), zap.String("email", plan.Email))
	p.observe(entry, OutcomeOK)
	return result, nil
}

// execute performs the side effects in order: account, claims, profile. A failure
// after the account exists deletes it again.
func (p *Provisioner) execute(ctx context.Context, logger *zap.Logger, plan policy.Plan, password string) (Result, error) {
	hash, err := crypto.HashPassword(password, p.bcryptCost)
	if err != nil {
		logger.Error("password hash failed", zap.Error(err))
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	uid, err := p.accounts.CreateAccount(ctx, plan.Email, hash)
	if err != nil {
		logger.Warn("account create failed", zap.Error(err))
		return Result{}, err
	}
	logger = logger.With(zap.String("uid", uid))

	if err := p.accounts.SetClaims(ctx, uid, plan.Claims); err != nil {
		logger.Warn("claims write failed", zap.Error(err))
		p.compensate(ctx, logger, uid)
		return Result{}, err
	}
	if err := p.profiles.PutProfile(ctx, uid, plan.Profile); err != nil {
		logger.Warn("profile write failed", zap.Error(err))
		p.compensate(ctx, logger, uid)
		return Result{}, err
	}

	return Result{
		UID:     uid,
		Message: fmt.Sprintf("User %s created successfully.", plan.Email),
	}, nil
}

func (p *Provisioner) compensate(ctx context.Context, logger *zap.Logger, uid string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := p.accounts.DeleteAccount(ctx, uid); err != nil {
		// The orphan sweep picks the account up later.
		logger.Error("account compensation failed", zap.Error(err))
		return
	}
	logger.Info("account compensated")
}

func (p *Provisioner) lookupReplay(ctx context.Context, logger *zap.Logger, entry policy.Entry, caller policy.Caller, plan policy.Plan, idempotencyKey string) (string, string, *Result, error) {
	if p.replays == nil || idempotencyKey == "" {
		return "", "", nil, nil
	}
	fingerprint, err := crypto.Fingerprint(struct {
		Entry   policy.Entry   `json:"entry"`
		Profile map[string]any `json:"profile"`
	}{Entry: entry, Profile: plan.Profile.Fields()})
	if err != nil {
		return "", "", nil, policy.Unknown(err)
	}
	key := idempotencyKeyBase + caller.UID + ":" + idempotencyKey

	payload, found, err := p.replays.Get(ctx, key)
	if err != nil {
		logger.Warn("idempotency lookup failed", zap.Error(err))
		return "", "", nil, nil
	}
	if !found {
		return key, fingerprint, nil, nil
	}
	var record replayRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		logger.Warn("idempotency record unreadable", zap.Error(err))
		return "", "", nil, nil
	}
	if record.Fingerprint != fingerprint {
		return "", "", nil, &policy.Error{Kind: policy.KindInvalidArgument, Message: "Idempotency-Key was already used for a different request."}
	}
	result := record.Result
	result.Replayed = true
	return key, fingerprint, &result, nil
}

func (p *Provisioner) storeReplay(ctx context.Context, logger *zap.Logger, key string, record replayRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		logger.Warn("idempotency record encode failed", zap.Error(err))
		return
	}
	if err := p.replays.Put(ctx, key, payload); err != nil {
		logger.Warn("idempotency record store failed", zap.Error(err))
	}
}

func (p *Provisioner) observe(entry policy.Entry, outcome string) {
	if p.metrics != nil {
		p.metrics.ObserveProvisioning(entry, outcome)
	}
}
