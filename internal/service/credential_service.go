package service

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/model"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/repository"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCredentialsNotConfigured = errors.New("proctoring credentials are not configured")
	ErrCredentialSecretMissing  = errors.New("CREDENTIAL_SECRET is not set")
)

// sealer encrypts the vendor API key at rest with XChaCha20-Poly1305. Each
// sealed value gets its own random salt, and the key is derived from the
// site secret with Argon2id.
type sealer struct {
	secret []byte
}

const (
	saltSize     = 16
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

func newSealer(secret string) (*sealer, error) {
	if secret == "" {
		return nil, ErrCredentialSecretMissing
	}
	return &sealer{secret: []byte(secret)}, nil
}

func (s *sealer) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(s.secret, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return chacha20poly1305.NewX(key)
}

// seal returns base64(salt || nonce || ciphertext). The app ID is bound as
// additional data so a key cannot be moved to another site.
func (s *sealer) seal(plaintext, appID string) (string, error) {
	salt := make([]byte, saltSize, saltSize+chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := s.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := append(salt, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), []byte(appID))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *sealer) open(sealed, appID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errors.New("sealed key too short")
	}
	salt, rest := raw[:saltSize], raw[saltSize:]
	aead, err := s.aead(salt)
	if err != nil {
		return "", err
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(appID))
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}
	return string(plain), nil
}

// CredentialService resolves the site's vendor credentials. Environment
// credentials win; otherwise the sealed pair in app_settings is used.
type CredentialService struct {
	settingRepo *repository.SettingRepository
	envCreds    proctor.Credentials
	secret      string
	log         zerolog.Logger

	mu     sync.RWMutex
	cached *proctor.Credentials
}

func NewCredentialService(settingRepo *repository.SettingRepository, envCreds proctor.Credentials, secret string, log zerolog.Logger) *CredentialService {
	return &CredentialService{
		settingRepo: settingRepo,
		envCreds:    envCreds,
		secret:      secret,
		log:         log.With().Str("component", "credential_service").Logger(),
	}
}

// Resolve returns validated credentials.
func (s *CredentialService) Resolve(ctx context.Context) (proctor.Credentials, error) {
	if s.envCreds.AppID != "" || s.envCreds.APIKey != "" {
		return s.envCreds, s.envCreds.Validate()
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	settings, err := s.settingRepo.GetMany(ctx, model.SettingProctorAppID, model.SettingProctorAPIKey)
	if err != nil {
		return proctor.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	appID, okApp := settings[model.SettingProctorAppID]
	sealed, okKey := settings[model.SettingProctorAPIKey]
	if !okApp || !okKey {
		return proctor.Credentials{}, ErrCredentialsNotConfigured
	}

	sl, err := newSealer(s.secret)
	if err != nil {
		return proctor.Credentials{}, err
	}
	apiKey, err := sl.open(sealed.Value, appID.Value)
	if err != nil {
		s.log.Error().Err(err).Msg("Stored API key cannot be opened, was CREDENTIAL_SECRET rotated?")
		return proctor.Credentials{}, err
	}

	creds := proctor.Credentials{AppID: appID.Value, APIKey: apiKey}
	if err := creds.Validate(); err != nil {
		return proctor.Credentials{}, err
	}
	s.mu.Lock()
	s.cached = &creds
	s.mu.Unlock()
	return creds, nil
}

// Save validates, seals and stores a new credential pair.
func (s *CredentialService) Save(ctx context.Context, creds proctor.Credentials, updatedBy int) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	sl, err := newSealer(s.secret)
	if err != nil {
		return err
	}
	sealed, err := sl.seal(creds.APIKey, creds.AppID)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}

	if err := s.settingRepo.UpsertMany(ctx, map[string]string{
		model.SettingProctorAppID:     creds.AppID,
		model.SettingProctorAPIKey:    sealed,
		model.SettingProctorUpdatedBy: strconv.Itoa(updatedBy),
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to store credentials")
		return err
	}

	s.mu.Lock()
	s.cached = &creds
	s.mu.Unlock()
	s.log.Info().Str("app_id", creds.AppID).Int("updated_by", updatedBy).Msg("Proctoring credentials updated")
	return nil
}
