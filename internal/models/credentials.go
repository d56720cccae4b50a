package models

// StoredCredentials is the at-rest record for a user's captured session
// artifact. The artifact payload is sealed with AES-GCM before it reaches
// storage - this record never holds plaintext cookie or token values.
type StoredCredentials struct {
	UserID      string `json:"user_id"`      // Storage key, one record per user
	SiteDomain  string `json:"site_domain"`  // Domain the artifact authenticates against
	Sealed      []byte `json:"sealed"`       // AES-GCM encrypted SessionArtifact JSON
	ExtractedAt int64  `json:"extracted_at"` // Extraction time of the sealed artifact (Unix seconds)
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}
