package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// VaultStore implements the backing field-map store on HashiCorp Vault's
// KV v2 engine. Each context maps to one secret; fields are merged at
// single-field granularity via JSON merge patch.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "file-registry")
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

// GetAllFields returns the whole field map of a context. A missing secret
// yields an empty map.
func (s *VaultStore) GetAllFields(ctx context.Context, contextID interfaces.ContextID) (map[string]string, error) {
	if err := contextID.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	secret, err := s.client.KVv2(s.mountPath).Get(ctx, s.secretPath(contextID))
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return map[string]string{}, nil
		}
		s.log.Error("Failed to read context from Vault",
			slog.String("context_id", contextID.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	fields := make(map[string]string, len(secret.Data))
	for key, raw := range secret.Data {
		value, ok := raw.(string)
		if !ok {
			s.log.Warn("Skipping non-string field in Vault secret",
				slog.String("context_id", contextID.String()),
				slog.String("field", key))
			continue
		}
		fields[key] = value
	}

	s.log.Debug("Fetched context fields from Vault",
		slog.String("context_id", contextID.String()),
		slog.Int("fields", len(fields)),
		slog.Duration("duration", time.Since(start)))

	return fields, nil
}

// GetField returns one field; the boolean reports presence.
func (s *VaultStore) GetField(ctx context.Context, contextID interfaces.ContextID, field string) (string, bool, error) {
	fields, err := s.GetAllFields(ctx, contextID)
	if err != nil {
		return "", false, err
	}
	value, ok := fields[field]
	return value, ok, nil
}

// SetField writes one field via JSON merge patch, leaving sibling fields
// untouched. The first write to a context creates the secret.
func (s *VaultStore) SetField(ctx context.Context, contextID interfaces.ContextID, field, value string) error {
	if err := contextID.Validate(); err != nil {
		return err
	}

	kv := s.client.KVv2(s.mountPath)
	path := s.secretPath(contextID)
	patch := map[string]interface{}{field: value}

	if _, err := kv.Patch(ctx, path, patch); err != nil {
		// Patch requires an existing secret; fall back to a create.
		if errors.Is(err, api.ErrSecretNotFound) || strings.Contains(err.Error(), "404") {
			if _, putErr := kv.Put(ctx, path, patch); putErr != nil {
				return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, putErr)
			}
			return nil
		}
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// DeleteField removes one field via a null merge patch.
func (s *VaultStore) DeleteField(ctx context.Context, contextID interfaces.ContextID, field string) error {
	if err := contextID.Validate(); err != nil {
		return err
	}

	_, err := s.client.KVv2(s.mountPath).Patch(ctx, s.secretPath(contextID), map[string]interface{}{field: nil})
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) || strings.Contains(err.Error(), "404") {
			return nil
		}
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Name returns identifier for logging.
func (s *VaultStore) Name() string {
	return "kv-vault"
}

func (s *VaultStore) secretPath(contextID interfaces.ContextID) string {
	if s.dataPath == "" {
		return contextID.String()
	}
	return s.dataPath + "/" + contextID.String()
}
