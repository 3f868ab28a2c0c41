package provisioning

import (
	"context"

	"semaphore/provisioning/internal/policy"
)

// Accounts is the identity collaborator: it owns credentials and custom claims.
type Accounts interface {
	CreateAccount(ctx context.Context, email, passwordHash string) (string, error)
	SetClaims(ctx context.Context, uid string, claims map[string]bool) error
	DeleteAccount(ctx context.Context, uid string) error
}

// Profiles persists the profile document of an account.
type Profiles interface {
	PutProfile(ctx context.Context, uid string, profile policy.ProfileRecord) error
}

// Replays stores encoded results under idempotency keys. Put must not overwrite an
// existing key.
type Replays interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

type Recorder interface {
	ObserveProvisioning(entry policy.Entry, outcome string)
}
