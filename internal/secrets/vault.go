package secrets

import (
	"context"

	"github.com/rendis/nodeflow/internal/store"
)

// CredentialResolver returns the plaintext of a credential owned by userID.
// Plaintext is resolved in-memory per call and never cached.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialID, userID string) (string, error)
}

// CredentialStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *store.Credential) error
	GetCredential(ctx context.Context, id string) (*store.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]*store.Credential, error)
	DeleteCredential(ctx context.Context, id, userID string) error
}
