package credentials

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/gluk-w/claworc/keyvault/internal/database"
)

// ExportEntry describes one credential without any secret material, in
// plaintext or encrypted form.
type ExportEntry struct {
	Name          string    `json:"name" yaml:"name"`
	Type          string    `json:"type" yaml:"type"`
	Username      string    `json:"username" yaml:"username"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	HasPassword   bool      `json:"has_password" yaml:"has_password"`
	HasPrivateKey bool      `json:"has_private_key" yaml:"has_private_key"`
	HasPassphrase bool      `json:"has_passphrase" yaml:"has_passphrase"`
}

type Export struct {
	ExportDate  time.Time     `json:"export_date" yaml:"export_date"`
	OwnerID     uint          `json:"owner_id" yaml:"owner_id"`
	Credentials []ExportEntry `json:"credentials" yaml:"credentials"`
}

// exportColumns never includes the secret columns; presence is computed in SQL.
var exportColumns = []string{
	"name", "type", "username", "created_at",
	"encrypted_password IS NOT NULL AS has_password",
	"encrypted_private_key IS NOT NULL AS has_private_key",
	"encrypted_passphrase IS NOT NULL AS has_passphrase",
}

type exportRow struct {
	Name          string
	Type          string
	Username      string
	CreatedAt     time.Time
	HasPassword   bool
	HasPrivateKey bool
	HasPassphrase bool
}

// Export lists ownerID's credentials with presence flags for each secret.
// Nothing is decrypted.
func (s *Store) Export(ctx context.Context, ownerID uint) (*Export, error) {
	var rows []exportRow
	if err := s.db.WithContext(ctx).Model(&database.Credential{}).
		Select(exportColumns).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, rowid ASC").
		Scan(&rows).Error; err != nil {
		return nil, &StorageError{Op: "export", Err: err}
	}

	return &Export{
		ExportDate: time.Now().UTC(),
		OwnerID:    ownerID,
		Credentials: lo.Map(rows, func(r exportRow, _ int) ExportEntry {
			return ExportEntry(r)
		}),
	}, nil
}
