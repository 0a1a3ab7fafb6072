package database

import "time"

// Credential types.
const (
	CredentialTypePassword   = "password"
	CredentialTypePrivateKey = "private_key"
)

// Credential is one owner-scoped secret. The Encrypted* columns hold Fernet
// tokens; a column that is not set is NULL.
type Credential struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID             uint      `gorm:"not null;index" json:"owner_id"`
	Name                string    `gorm:"not null;size:255" json:"name"`
	Type                string    `gorm:"not null;size:32" json:"type"`
	Username            string    `gorm:"not null" json:"username"`
	EncryptedPassword   *string   `gorm:"type:text" json:"-"`
	EncryptedPrivateKey *string   `gorm:"type:text" json:"-"`
	EncryptedPassphrase *string   `gorm:"type:text" json:"-"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
