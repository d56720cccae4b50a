package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// CredentialStore persists captured session artifacts, encrypted at rest,
// keyed by user identity with upsert semantics. A new successful login
// supersedes the previous artifact - records are replaced, never patched.
type CredentialStore interface {
	// SaveArtifact seals and stores the artifact for the user
	SaveArtifact(ctx context.Context, userID string, artifact *models.SessionArtifact) error

	// LoadArtifact returns the stored artifact and its extraction time.
	// Returns nil artifact without error when no record exists.
	LoadArtifact(ctx context.Context, userID string) (*models.SessionArtifact, time.Time, error)

	// DeleteArtifact removes the stored artifact. Deleting a missing record is not an error.
	DeleteArtifact(ctx context.Context, userID string) error

	// ListUserIDs returns the IDs of all users with a stored artifact
	ListUserIDs(ctx context.Context) ([]string, error)
}
