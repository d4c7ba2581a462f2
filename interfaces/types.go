package interfaces

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// FileHash is the 8-byte xxhash64 digest of file content, used purely for
// deduplication within a context. It carries no integrity guarantee.
type FileHash [8]byte

// NewFileHashFromBytes creates a file hash from a raw 8-byte digest.
func NewFileHashFromBytes(source []byte) (FileHash, error) {
	if len(source) != 8 {
		return FileHash{}, errors.New("invalid FileHash conversion from bytes: incorrect length")
	}

	var digest [8]byte
	copy(digest[:], source)
	return FileHash(digest), nil
}

// NewFileHashFromHex parses a 16-character hex digest, tolerating an
// optional 0x prefix.
func NewFileHashFromHex(source string) (FileHash, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 16 {
		return FileHash{}, errors.New("invalid file hash length: hex string must be 16 characters")
	}

	digestBytes, err := hex.DecodeString(clean)
	if err != nil {
		return FileHash{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var digest [8]byte
	copy(digest[:], digestBytes)
	return FileHash(digest), nil
}

// String returns hex representation.
func (h FileHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 8-byte digest.
func (h FileHash) Bytes() []byte {
	return h[:]
}

// Equal compares two file hashes.
func (h FileHash) Equal(other FileHash) bool {
	return bytes.Equal(h[:], other[:])
}

// IsZero reports whether the hash is unset.
func (h FileHash) IsZero() bool {
	return h == FileHash{}
}

// MarshalJSON encodes the hash as a hex string.
func (h FileHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into the hash. An empty string leaves
// the hash zero so partially filled legacy records still parse.
func (h *FileHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = FileHash{}
		return nil
	}
	parsed, err := NewFileHashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ContextID identifies one tenant's isolation boundary. Each context owns an
// independent registry collection.
type ContextID string

// Validate checks the context identifier is usable as a KV store key.
func (c ContextID) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return fmt.Errorf("%w: empty context id", ErrValidation)
	}
	return nil
}

// String returns the raw identifier.
func (c ContextID) String() string {
	return string(c)
}

// Visibility is the canonical tagged form of a record's scoping: either the
// global marker, or a set of scope identifiers. An empty, non-global
// visibility marks a latent record that is excluded from all scoped listings
// but still addressable by hash.
type Visibility struct {
	Global bool
	Scopes []string
}

// GlobalVisibility returns the global marker.
func GlobalVisibility() Visibility {
	return Visibility{Global: true}
}

// ScopedVisibility returns a visibility limited to exactly the given scopes.
func ScopedVisibility(scopes ...string) Visibility {
	return Visibility{Scopes: dedupScopes(scopes)}
}

// IsGlobal reports whether the record is visible everywhere.
func (v Visibility) IsGlobal() bool {
	return v.Global
}

// IsLatent reports whether the record is excluded from every scoped listing.
func (v Visibility) IsLatent() bool {
	return !v.Global && len(v.Scopes) == 0
}

// Contains reports whether scopeID is a member of the scope set. Global
// visibility contains every scope.
func (v Visibility) Contains(scopeID string) bool {
	if v.Global {
		return true
	}
	return slices.Contains(v.Scopes, scopeID)
}

// VisibleTo applies the scoping rule for a query. An empty scopeID is the
// default view and shows only globally shared records.
func (v Visibility) VisibleTo(scopeID string) bool {
	if v.Global {
		return true
	}
	if scopeID == "" {
		return false
	}
	return slices.Contains(v.Scopes, scopeID)
}

// AddScope returns the visibility with scopeID merged in. Global visibility
// absorbs any addition; an empty scopeID promotes the record to global. The
// merge is commutative and idempotent so repeated or out-of-order
// application converges.
func (v Visibility) AddScope(scopeID string) Visibility {
	if v.Global || scopeID == "" {
		return GlobalVisibility()
	}
	if slices.Contains(v.Scopes, scopeID) {
		return v.clone()
	}
	out := v.clone()
	out.Scopes = append(out.Scopes, scopeID)
	return out
}

// RemoveScope returns the visibility without scopeID. Removing a scope from
// a global record is a no-op; removing the last scope yields a latent record.
func (v Visibility) RemoveScope(scopeID string) Visibility {
	if v.Global {
		return GlobalVisibility()
	}
	out := Visibility{Scopes: make([]string, 0, len(v.Scopes))}
	for _, s := range v.Scopes {
		if s != scopeID {
			out.Scopes = append(out.Scopes, s)
		}
	}
	return out
}

// Merge unions two visibilities. Global absorbs.
func (v Visibility) Merge(other Visibility) Visibility {
	if v.Global || other.Global {
		return GlobalVisibility()
	}
	return Visibility{Scopes: dedupScopes(append(v.clone().Scopes, other.Scopes...))}
}

func (v Visibility) clone() Visibility {
	return Visibility{Global: v.Global, Scopes: slices.Clone(v.Scopes)}
}

// globalMarker is the legacy in-band scope name that meant "visible
// everywhere" before the tagged form existed.
const globalMarker = "global"

type visibilityJSON struct {
	Global bool     `json:"global,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// MarshalJSON always emits the canonical tagged form.
func (v Visibility) MarshalJSON() ([]byte, error) {
	if v.Global {
		return json.Marshal(visibilityJSON{Global: true})
	}
	return json.Marshal(visibilityJSON{Scopes: dedupScopes(v.Scopes)})
}

// UnmarshalJSON normalizes the persisted shape. Besides the canonical tagged
// object it tolerates the legacy encodings: a bare boolean (the old "shared
// globally" flag), a bare scope array, and an array carrying the in-band
// "global" marker.
func (v *Visibility) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Visibility{}
		return nil
	}

	switch trimmed[0] {
	case 't', 'f':
		var global bool
		if err := json.Unmarshal(trimmed, &global); err != nil {
			return err
		}
		*v = Visibility{Global: global}
		return nil
	case '[':
		var scopes []string
		if err := json.Unmarshal(trimmed, &scopes); err != nil {
			return err
		}
		*v = normalizeScopeList(scopes)
		return nil
	default:
		var raw visibilityJSON
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if raw.Global {
			*v = GlobalVisibility()
			return nil
		}
		*v = normalizeScopeList(raw.Scopes)
		return nil
	}
}

func normalizeScopeList(scopes []string) Visibility {
	if slices.Contains(scopes, globalMarker) {
		return GlobalVisibility()
	}
	return Visibility{Scopes: dedupScopes(scopes)}
}

func dedupScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FileRecord is the registry's metadata entry for one piece of content.
// Records are keyed by Hash within a context. The Derived record, when
// present, supersedes URL and MimeType for consumption.
type FileRecord struct {
	Hash            FileHash    `json:"hash"`
	URL             string      `json:"url"`
	BackupURL       string      `json:"backup_url,omitempty"`
	DisplayFilename string      `json:"display_filename,omitempty"`
	MimeType        string      `json:"mime_type,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Permanent       bool        `json:"permanent,omitempty"`
	Visibility      Visibility  `json:"visibility"`
	AddedDate       time.Time   `json:"added_date"`
	LastAccessed    time.Time   `json:"last_accessed"`
	Derived         *FileRecord `json:"derived,omitempty"`
}

// ConsumptionURL returns the URL downstream consumers should use: the
// derived representation when one exists, the canonical URL otherwise.
func (r *FileRecord) ConsumptionURL() string {
	if r.Derived != nil && r.Derived.URL != "" {
		return r.Derived.URL
	}
	return r.URL
}

// ConsumptionMimeType mirrors ConsumptionURL for the content type.
func (r *FileRecord) ConsumptionMimeType() string {
	if r.Derived != nil && r.Derived.MimeType != "" {
		return r.Derived.MimeType
	}
	return r.MimeType
}

// Touch advances LastAccessed, keeping the lastAccessed >= addedDate
// invariant even for records written with a future added date.
func (r *FileRecord) Touch(now time.Time) {
	if now.After(r.LastAccessed) {
		r.LastAccessed = now
	}
	if r.LastAccessed.Before(r.AddedDate) {
		r.LastAccessed = r.AddedDate
	}
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = slices.Clone(r.Tags)
	out.Visibility = r.Visibility.clone()
	out.Derived = r.Derived.Clone()
	return &out
}

// MetadataPatch carries an explicit-field metadata update. Nil pointers
// leave the corresponding record field untouched.
type MetadataPatch struct {
	DisplayFilename *string     `json:"display_filename,omitempty"`
	MimeType        *string     `json:"mime_type,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	Permanent       *bool       `json:"permanent,omitempty"`
	BackupURL       *string     `json:"backup_url,omitempty"`
	Derived         *FileRecord `json:"derived,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p MetadataPatch) IsZero() bool {
	return p.DisplayFilename == nil && p.MimeType == nil && p.Tags == nil &&
		p.Notes == nil && p.Permanent == nil && p.BackupURL == nil && p.Derived == nil
}

// Apply merges the patch into the record. Only explicitly provided fields
// change.
func (p MetadataPatch) Apply(r *FileRecord) {
	if p.DisplayFilename != nil {
		r.DisplayFilename = *p.DisplayFilename
	}
	if p.MimeType != nil {
		r.MimeType = *p.MimeType
	}
	if p.Tags != nil {
		r.Tags = slices.Clone(p.Tags)
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	if p.Permanent != nil {
		r.Permanent = *p.Permanent
	}
	if p.BackupURL != nil {
		r.BackupURL = *p.BackupURL
	}
	if p.Derived != nil {
		r.Derived = p.Derived.Clone()
	}
}
