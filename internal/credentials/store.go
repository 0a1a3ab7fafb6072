// Package credentials stores owner-scoped passwords and private keys with
// every secret field sealed individually under the server master key.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/keyvault/internal/crypto"
	"github.com/gluk-w/claworc/keyvault/internal/database"
	"github.com/gluk-w/claworc/keyvault/internal/logging"
	"github.com/gluk-w/claworc/keyvault/internal/logutil"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

// Store owns the credential rows. Every query is filtered by owner, so a
// credential owned by someone else behaves exactly like a missing one.
type Store struct {
	db       *gorm.DB
	codec    *crypto.Codec
	log      *zap.Logger
	validate *validator.Validate
}

func NewStore(db *gorm.DB, codec *crypto.Codec, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		codec:    codec,
		log:      logging.OrNop(logger).Named("credentials"),
		validate: newValidator(),
	}
}

func checkOwner(ownerID uint) error {
	if ownerID == 0 {
		return &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	return nil
}

// seal encrypts the secrets that are set. Unset secrets stay nil.
func (s *Store) seal(sec Secret) (*string, error) {
	if !sec.IsSet() {
		return nil, nil
	}
	tok, err := s.codec.Encrypt(sec.Value())
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) open(tok *string) (Secret, error) {
	if tok == nil {
		return None(), nil
	}
	v, err := s.codec.Decrypt(*tok)
	if err != nil {
		return None(), err
	}
	return Some(v), nil
}

type sealed struct {
	password, privateKey, passphrase *string
}

func (s *Store) sealInput(in Input) (sealed, error) {
	var (
		out sealed
		err error
	)
	if out.password, err = s.seal(in.Password); err != nil {
		return sealed{}, fmt.Errorf("encrypt password: %w", err)
	}
	if out.privateKey, err = s.seal(in.PrivateKey); err != nil {
		return sealed{}, fmt.Errorf("encrypt private key: %w", err)
	}
	if out.passphrase, err = s.seal(in.Passphrase); err != nil {
		return sealed{}, fmt.Errorf("encrypt passphrase: %w", err)
	}
	return out, nil
}

// toCredential decrypts a row for its owner.
func (s *Store) toCredential(row *database.Credential) (*Credential, error) {
	c := &Credential{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		Type:      row.Type,
		Username:  row.Username,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	var err error
	if c.Password, err = s.open(row.EncryptedPassword); err != nil {
		return nil, fmt.Errorf("credential %s password: %w", row.ID, err)
	}
	if c.PrivateKey, err = s.open(row.EncryptedPrivateKey); err != nil {
		return nil, fmt.Errorf("credential %s private key: %w", row.ID, err)
	}
	if c.Passphrase, err = s.open(row.EncryptedPassphrase); err != nil {
		return nil, fmt.Errorf("credential %s passphrase: %w", row.ID, err)
	}
	return c, nil
}

func withPlaintext(row *database.Credential, in Input) *Credential {
	return &Credential{
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		Name:       row.Name,
		Type:       row.Type,
		Username:   row.Username,
		Password:   in.Password,
		PrivateKey: in.PrivateKey,
		Passphrase: in.Passphrase,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

// Create validates in and stores it as a new credential owned by ownerID.
func (s *Store) Create(ctx context.Context, ownerID uint, in Input) (*Credential, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	in, err := s.check(in)
	if err != nil {
		return nil, err
	}
	enc, err := s.sealInput(in)
	if err != nil {
		return nil, err
	}

	row := database.Credential{
		ID:                  uuid.NewString(),
		OwnerID:             ownerID,
		Name:                in.Name,
		Type:                in.Type,
		Username:            in.Username,
		EncryptedPassword:   enc.password,
		EncryptedPrivateKey: enc.privateKey,
		EncryptedPassphrase: enc.passphrase,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}

	s.log.Info("credential created",
		zap.String("id", row.ID),
		zap.Uint("owner", ownerID),
		zap.String("type", row.Type),
		logutil.String("name", row.Name),
	)
	return withPlaintext(&row, in), nil
}

// CreateFromKeyPair stores a generated key pair as a private_key credential.
// passphrase must be the one kp was encrypted with, if any.
func (s *Store) CreateFromKeyPair(ctx context.Context, ownerID uint, name, username string, kp *sshkeys.KeyPair, passphrase string) (*Credential, error) {
	if kp == nil {
		return nil, &ValidationError{Field: "private_key", Reason: "is required"}
	}
	return s.Create(ctx, ownerID, Input{
		Name:       name,
		Type:       TypePrivateKey,
		Username:   username,
		PrivateKey: Some(string(kp.PrivateKey)),
		Passphrase: SomeIf(passphrase, kp.HasPassphrase),
	})
}

func (s *Store) find(ctx context.Context, id string, ownerID uint) (*database.Credential, error) {
	var row database.Credential
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return &row, nil
}

// GetByID returns the credential with its secrets decrypted.
func (s *Store) GetByID(ctx context.Context, id string, ownerID uint) (*Credential, error) {
	row, err := s.find(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.toCredential(row)
}

// ListByOwner returns every credential of ownerID, oldest first, with
// secrets decrypted.
func (s *Store) ListByOwner(ctx context.Context, ownerID uint) ([]Credential, error) {
	var rows []database.Credential
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, rowid ASC").
		Find(&rows).Error; err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	out := make([]Credential, 0, len(rows))
	for i := range rows {
		c, err := s.toCredential(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// Update replaces name, type, username and all three secrets.
func (s *Store) Update(ctx context.Context, id string, ownerID uint, in Input) (*Credential, error) {
	in, err := s.check(in)
	if err != nil {
		return nil, err
	}
	enc, err := s.sealInput(in)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&database.Credential{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]interface{}{
			"name":                  in.Name,
			"type":                  in.Type,
			"username":              in.Username,
			"encrypted_password":    nullable(enc.password),
			"encrypted_private_key": nullable(enc.privateKey),
			"encrypted_passphrase":  nullable(enc.passphrase),
		})
	if res.Error != nil {
		return nil, &StorageError{Op: "update", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	row, err := s.find(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	s.log.Info("credential updated",
		zap.String("id", id),
		zap.Uint("owner", ownerID),
		zap.String("type", row.Type),
		logutil.String("name", row.Name),
	)
	return withPlaintext(row, in), nil
}

// nullable turns an unset column into an untyped nil so it is written as NULL.
func nullable(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Delete removes the credential permanently.
func (s *Store) Delete(ctx context.Context, id string, ownerID uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&database.Credential{})
	if res.Error != nil {
		return &StorageError{Op: "delete", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.log.Info("credential deleted", zap.String("id", id), zap.Uint("owner", ownerID))
	return nil
}
