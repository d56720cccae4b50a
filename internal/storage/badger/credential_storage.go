package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/secrets"
)

// CredentialStorage implements the CredentialStore interface for Badger.
// Artifacts are sealed with AES-GCM before they touch disk; the plaintext
// never leaves this type's method scope.
type CredentialStorage struct {
	db     *BadgerDB
	cipher *secrets.Cipher
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, cipher *secrets.Cipher, logger arbor.ILogger) interfaces.CredentialStore {
	return &CredentialStorage{
		db:     db,
		cipher: cipher,
		logger: logger,
	}
}

// SaveArtifact seals and upserts the artifact keyed by user ID. A new login
// replaces the previous record wholesale.
func (s *CredentialStorage) SaveArtifact(ctx context.Context, userID string, artifact *models.SessionArtifact) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if artifact == nil {
		return fmt.Errorf("artifact is required")
	}

	plaintext, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal artifact: %w", err)
	}

	now := time.Now().Unix()
	record := &models.StoredCredentials{
		UserID:      userID,
		SiteDomain:  domainOf(artifact.BaseURL),
		Sealed:      sealed,
		ExtractedAt: artifact.ExtractedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if existing, err := s.load(userID); err == nil && existing != nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(userID, record); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("site_domain", record.SiteDomain).
		Int("sealed_bytes", len(sealed)).
		Msg("Stored sealed session artifact")

	return nil
}

// LoadArtifact returns the stored artifact and its extraction time, or a nil
// artifact without error when no record exists.
func (s *CredentialStorage) LoadArtifact(ctx context.Context, userID string) (*models.SessionArtifact, time.Time, error) {
	record, err := s.load(userID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if record == nil {
		return nil, time.Time{}, nil
	}

	plaintext, err := s.cipher.Open(record.Sealed)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unseal artifact for %s: %w", userID, err)
	}

	var artifact models.SessionArtifact
	if err := json.Unmarshal(plaintext, &artifact); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode artifact for %s: %w", userID, err)
	}

	return &artifact, time.Unix(record.ExtractedAt, 0), nil
}

// DeleteArtifact removes the stored record. Deleting a missing record is not
// an error.
func (s *CredentialStorage) DeleteArtifact(ctx context.Context, userID string) error {
	if err := s.db.Store().Delete(userID, &models.StoredCredentials{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// ListUserIDs returns the IDs of all users with a stored artifact
func (s *CredentialStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	var records []models.StoredCredentials
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].UserID
	}
	return ids, nil
}

func (s *CredentialStorage) load(userID string) (*models.StoredCredentials, error) {
	var record models.StoredCredentials
	if err := s.db.Store().Get(userID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &record, nil
}

func domainOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}
