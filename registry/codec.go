package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// encPrefix marks an encrypted field value. Values without the prefix are
// legacy plaintext and pass through untouched.
const encPrefix = "enc:v1:"

// DeriveContextKey derives a per-context AES-256 key from a passphrase.
// The context ID salts the derivation so equal passphrases on different
// contexts yield different keys.
func DeriveContextKey(contextID interfaces.ContextID, passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	salt := sha256.Sum256([]byte("file-registry:" + contextID.String()))
	return argon2.IDKey([]byte(passphrase), salt[:], 1, 64*1024, 4, 32)
}

// KeyFingerprint identifies a key for cache partitioning without exposing
// it. An empty key has an empty fingerprint.
func KeyFingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	sum := sha256.Sum256(key)
	return fmt.Sprintf("%x", sum[:8])
}

// storedRecord is the persisted JSON shape. Tags and notes are raw so the
// codec can hold either the plaintext value or an encrypted string blob.
type storedRecord struct {
	Hash            interfaces.FileHash   `json:"hash"`
	URL             string                `json:"url"`
	BackupURL       string                `json:"backup_url,omitempty"`
	DisplayFilename string                `json:"display_filename,omitempty"`
	MimeType        string                `json:"mime_type,omitempty"`
	Tags            json.RawMessage       `json:"tags,omitempty"`
	Notes           json.RawMessage       `json:"notes,omitempty"`
	Permanent       bool                  `json:"permanent,omitempty"`
	Visibility      interfaces.Visibility `json:"visibility"`
	AddedDate       time.Time             `json:"added_date"`
	LastAccessed    time.Time             `json:"last_accessed"`
	Derived         json.RawMessage       `json:"derived,omitempty"`
}

// recordCodec serializes records at the persistence boundary. In-memory
// records are always plaintext; with a context key present, tags and notes
// (and the same fields of the derived record) are encrypted at rest. URL
// and hash are never encrypted so dedup and addressing work without a key.
type recordCodec struct {
	key []byte
}

// Encode serializes a record for storage.
func (c recordCodec) Encode(rec *interfaces.FileRecord) (string, error) {
	stored, err := c.toStored(rec)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(out), nil
}

// Decode parses a stored record, decrypting marked fields when a key is
// present and passing legacy plaintext through unchanged. Missing fields
// default to empty.
func (c recordCodec) Decode(value string) (*interfaces.FileRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		return nil, fmt.Errorf("failed to parse stored record: %w", err)
	}
	return c.fromStored(&stored)
}

func (c recordCodec) toStored(rec *interfaces.FileRecord) (*storedRecord, error) {
	stored := &storedRecord{
		Hash:            rec.Hash,
		URL:             rec.URL,
		BackupURL:       rec.BackupURL,
		DisplayFilename: rec.DisplayFilename,
		MimeType:        rec.MimeType,
		Permanent:       rec.Permanent,
		Visibility:      rec.Visibility,
		AddedDate:       rec.AddedDate,
		LastAccessed:    rec.LastAccessed,
	}

	if len(rec.Tags) > 0 {
		raw, err := c.sealJSON(rec.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
		stored.Tags = raw
	}
	if rec.Notes != "" {
		raw, err := c.sealJSON(rec.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to encode notes: %w", err)
		}
		stored.Notes = raw
	}
	if rec.Derived != nil {
		derived, err := c.toStored(rec.Derived)
		if err != nil {
			return nil, fmt.Errorf("failed to encode derived record: %w", err)
		}
		raw, err := json.Marshal(derived)
		if err != nil {
			return nil, err
		}
		stored.Derived = raw
	}
	return stored, nil
}

func (c recordCodec) fromStored(stored *storedRecord) (*interfaces.FileRecord, error) {
	rec := &interfaces.FileRecord{
		Hash:            stored.Hash,
		URL:             stored.URL,
		BackupURL:       stored.BackupURL,
		DisplayFilename: stored.DisplayFilename,
		MimeType:        stored.MimeType,
		Permanent:       stored.Permanent,
		Visibility:      stored.Visibility,
		AddedDate:       stored.AddedDate,
		LastAccessed:    stored.LastAccessed,
	}

	if len(stored.Tags) > 0 {
		if err := c.openJSON(stored.Tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(stored.Notes) > 0 {
		if err := c.openJSON(stored.Notes, &rec.Notes); err != nil {
			return nil, fmt.Errorf("failed to decode notes: %w", err)
		}
	}
	if len(stored.Derived) > 0 {
		var derivedStored storedRecord
		if err := json.Unmarshal(stored.Derived, &derivedStored); err != nil {
			return nil, fmt.Errorf("failed to parse derived record: %w", err)
		}
		derived, err := c.fromStored(&derivedStored)
		if err != nil {
			return nil, err
		}
		rec.Derived = derived
	}
	return rec, nil
}

// sealJSON marshals a value and, when a key is present, replaces it with an
// encrypted string blob.
func (c recordCodec) sealJSON(value any) (json.RawMessage, error) {
	plain, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(c.key) == 0 {
		return plain, nil
	}

	sealed, err := seal(c.key, plain)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed)
}

// openJSON decodes either a plaintext JSON value or an encrypted string
// blob into out.
func (c recordCodec) openJSON(raw json.RawMessage, out any) error {
	var blob string
	if err := json.Unmarshal(raw, &blob); err == nil && strings.HasPrefix(blob, encPrefix) {
		if len(c.key) == 0 {
			return fmt.Errorf("%w: encrypted field but no context key", interfaces.ErrValidation)
		}
		plain, err := open(c.key, blob)
		if err != nil {
			return err
		}
		return json.Unmarshal(plain, out)
	}
	// Legacy plaintext value.
	return json.Unmarshal(raw, out)
}

func seal(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func open(key []byte, blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, encPrefix))
	if err != nil {
		return nil, fmt.Errorf("malformed encrypted field: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < aesgcm.NonceSize() {
		return nil, fmt.Errorf("malformed encrypted field: too short")
	}

	plaintext, err := aesgcm.Open(nil, raw[:aesgcm.NonceSize()], raw[aesgcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt field: %w", err)
	}
	return plaintext, nil
}
