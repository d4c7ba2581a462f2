package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/metrics"
)

// ContextHandle binds a context ID to its optional encryption key for the
// duration of a call.
type ContextHandle struct {
	ID interfaces.ContextID

	key         []byte
	fingerprint string
}

// NewContextHandle creates a handle. An empty passphrase disables field
// encryption for the context.
func NewContextHandle(contextID interfaces.ContextID, passphrase string) ContextHandle {
	key := DeriveContextKey(contextID, passphrase)
	return ContextHandle{
		ID:          contextID,
		key:         key,
		fingerprint: KeyFingerprint(key),
	}
}

// Registry is the per-context file collection registry over the backing
// key-value store.
type Registry struct {
	kv    interfaces.KVStore
	cache *collectionCache
	log   *slog.Logger

	now          func() time.Time
	casBaseDelay time.Duration

	touches sync.WaitGroup
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCASBaseDelay overrides the initial swap backoff, for tests.
func WithCASBaseDelay(d time.Duration) Option {
	return func(r *Registry) { r.casBaseDelay = d }
}

// New creates a registry over the given key-value store.
func New(kv interfaces.KVStore, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		kv:           kv,
		log:          log,
		now:          time.Now,
		casBaseDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = newCollectionCache(r.now)
	return r
}

// RecordPatch carries the fields an upsert may set. Zero values leave the
// corresponding record field untouched.
type RecordPatch struct {
	URL             string
	BackupURL       string
	DisplayFilename string
	MimeType        string
	Tags            []string
	Notes           string
	Permanent       *bool
	Derived         *interfaces.FileRecord
}

func (p RecordPatch) apply(rec *interfaces.FileRecord) {
	if p.URL != "" {
		rec.URL = p.URL
	}
	if p.BackupURL != "" {
		rec.BackupURL = p.BackupURL
	}
	if p.DisplayFilename != "" {
		rec.DisplayFilename = p.DisplayFilename
	}
	if p.MimeType != "" {
		rec.MimeType = p.MimeType
	}
	if p.Tags != nil {
		rec.Tags = slices.Clone(p.Tags)
	}
	if p.Notes != "" {
		rec.Notes = p.Notes
	}
	if p.Permanent != nil {
		rec.Permanent = *p.Permanent
	}
	if p.Derived != nil {
		rec.Derived = p.Derived.Clone()
	}
}

// Upsert reads the current record for hash (if any), merges the patch and
// the scope membership, and writes the merged record back as one atomic
// whole-record write. The scope merge is commutative and idempotent, so
// concurrent upserts to the same hash converge on the scope set; other
// fields are last-write-wins.
func (r *Registry) Upsert(ctx context.Context, h ContextHandle, hash interfaces.FileHash, patch RecordPatch, scopeID string) (*interfaces.FileRecord, error) {
	if err := h.ID.Validate(); err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, fmt.Errorf("%w: zero file hash", interfaces.ErrValidation)
	}

	rec, err := r.readStored(ctx, h, hash)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if rec == nil {
		rec = &interfaces.FileRecord{
			Hash:         hash,
			AddedDate:    now,
			LastAccessed: now,
		}
	}

	patch.apply(rec)
	rec.Visibility = rec.Visibility.AddScope(scopeID)
	rec.Touch(now)

	if err := r.writeRecord(ctx, h, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// ReadRecord returns the record for hash, or nil when absent; absence is
// never an error. A successful read touches lastAccessed in the background;
// the touch is fire-and-forget and never fails the read.
func (r *Registry) ReadRecord(ctx context.Context, h ContextHandle, hash interfaces.FileHash) (*interfaces.FileRecord, error) {
	if err := h.ID.Validate(); err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, fmt.Errorf("%w: zero file hash", interfaces.ErrValidation)
	}

	rec, err := r.readStored(ctx, h, hash)
	if err != nil || rec == nil {
		return nil, err
	}

	r.touchAsync(h, rec)
	return rec.Clone(), nil
}

// UpdateMetadata applies an explicit-field patch to an existing record.
// Returns false, and creates nothing, when the record is absent.
func (r *Registry) UpdateMetadata(ctx context.Context, h ContextHandle, hash interfaces.FileHash, patch interfaces.MetadataPatch) (bool, error) {
	if err := h.ID.Validate(); err != nil {
		return false, err
	}
	if hash.IsZero() {
		return false, fmt.Errorf("%w: zero file hash", interfaces.ErrValidation)
	}

	rec, err := r.readStored(ctx, h, hash)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	patch.Apply(rec)
	rec.Touch(r.now())

	if err := r.writeRecord(ctx, h, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ListVisible returns the records visible to scopeID (empty = default
// view, global records only), most recently accessed first.
func (r *Registry) ListVisible(ctx context.Context, h ContextHandle, scopeID string) ([]*interfaces.FileRecord, error) {
	snapshot, err := r.loadSnapshot(ctx, h)
	if err != nil {
		return nil, err
	}

	out := make([]*interfaces.FileRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Visibility.VisibleTo(scopeID) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out, nil
}

// RemoveScope drops scopeID from the record's visibility. Removing a scope
// from a global record is a no-op; removing the last scope leaves a latent
// record that stays addressable by hash. Returns nil when the record is
// absent.
func (r *Registry) RemoveScope(ctx context.Context, h ContextHandle, hash interfaces.FileHash, scopeID string) (*interfaces.FileRecord, error) {
	if err := h.ID.Validate(); err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, fmt.Errorf("%w: zero file hash", interfaces.ErrValidation)
	}

	rec, err := r.readStored(ctx, h, hash)
	if err != nil || rec == nil {
		return nil, err
	}

	if rec.Visibility.IsGlobal() {
		return rec.Clone(), nil
	}

	rec.Visibility = rec.Visibility.RemoveScope(scopeID)
	rec.Touch(r.now())

	if err := r.writeRecord(ctx, h, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Find locates a single record: exact match on hash, URL, or display
// filename first; substring match for queries of at least 4 characters as
// a fallback. Ties go to the most recently accessed record. Returns nil
// when nothing matches.
func (r *Registry) Find(ctx context.Context, h ContextHandle, query string) (*interfaces.FileRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", interfaces.ErrValidation)
	}

	snapshot, err := r.loadSnapshot(ctx, h)
	if err != nil {
		return nil, err
	}

	records := make([]*interfaces.FileRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastAccessed.After(records[j].LastAccessed)
	})

	// Hash queries normalize before the exact tier so uppercase or
	// 0x-prefixed digests still match.
	hashQuery := query
	if parsed, err := interfaces.NewFileHashFromHex(query); err == nil {
		hashQuery = parsed.String()
	}

	for _, rec := range records {
		if rec.Hash.String() == hashQuery || rec.URL == query || rec.DisplayFilename == query {
			return rec.Clone(), nil
		}
	}

	if len(query) >= 4 {
		lowered := strings.ToLower(query)
		for _, rec := range records {
			if strings.Contains(rec.Hash.String(), lowered) ||
				strings.Contains(strings.ToLower(rec.URL), lowered) ||
				strings.Contains(strings.ToLower(rec.DisplayFilename), lowered) {
				return rec.Clone(), nil
			}
		}
	}
	return nil, nil
}

// RegisterBatch registers a set of newly observed records as one logical
// step under the versioned-swap protocol. Records already present keep
// their metadata and gain the batch's visibility.
func (r *Registry) RegisterBatch(ctx context.Context, h ContextHandle, records []*interfaces.FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.Hash.IsZero() {
			return fmt.Errorf("%w: batch record without hash", interfaces.ErrValidation)
		}
	}

	now := r.now()
	return r.swap(ctx, h, func(snapshot map[interfaces.FileHash]*interfaces.FileRecord) (map[interfaces.FileHash]*interfaces.FileRecord, error) {
		for _, rec := range records {
			existing, ok := snapshot[rec.Hash]
			if !ok {
				added := rec.Clone()
				if added.AddedDate.IsZero() {
					added.AddedDate = now
				}
				added.Touch(now)
				snapshot[rec.Hash] = added
				continue
			}
			existing.Visibility = existing.Visibility.Merge(rec.Visibility)
			existing.Touch(now)
		}
		return snapshot, nil
	})
}

// Flush waits for in-flight background touches. Tests and graceful
// shutdown use it.
func (r *Registry) Flush() {
	r.touches.Wait()
}

func (r *Registry) readStored(ctx context.Context, h ContextHandle, hash interfaces.FileHash) (*interfaces.FileRecord, error) {
	value, ok, err := r.kv.GetField(ctx, h.ID, hash.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	codec := recordCodec{key: h.key}
	rec, err := codec.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", hash, err)
	}
	// The stored key is authoritative for addressing; backfill records
	// persisted before the hash field existed.
	if rec.Hash.IsZero() {
		rec.Hash = hash
	}
	return rec, nil
}

func (r *Registry) writeRecord(ctx context.Context, h ContextHandle, rec *interfaces.FileRecord) error {
	codec := recordCodec{key: h.key}
	encoded, err := codec.Encode(rec)
	if err != nil {
		return err
	}
	if err := r.kv.SetField(ctx, h.ID, rec.Hash.String(), encoded); err != nil {
		return err
	}
	r.cache.invalidate(h.ID)
	return nil
}

// touchAsync persists an updated lastAccessed without blocking or failing
// the calling read. The stale-read window is accepted: a lost touch only
// costs listing order.
func (r *Registry) touchAsync(h ContextHandle, rec *interfaces.FileRecord) {
	touched := rec.Clone()
	touched.Touch(r.now())
	if touched.LastAccessed.Equal(rec.LastAccessed) {
		return
	}
	rec.LastAccessed = touched.LastAccessed

	r.touches.Add(1)
	go func() {
		defer r.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.writeRecord(ctx, h, touched); err != nil {
			r.log.Debug("Fire-and-forget touch failed",
				slog.String("context_id", h.ID.String()),
				slog.String("hash", touched.Hash.String()),
				"err", err)
		}
	}()
}

// loadSnapshot returns the context's decoded collection, served from the
// cache when fresh. Callers must not mutate the returned records.
func (r *Registry) loadSnapshot(ctx context.Context, h ContextHandle) (map[interfaces.FileHash]*interfaces.FileRecord, error) {
	if err := h.ID.Validate(); err != nil {
		return nil, err
	}

	if snapshot, ok := r.cache.get(h.ID, h.fingerprint); ok {
		metrics.CacheHitsTotal.Inc()
		return snapshot, nil
	}
	metrics.CacheMissesTotal.Inc()

	// Captured before the fetch: a write landing while we read bumps the
	// generation, and put drops the then-stale snapshot.
	generation := r.cache.generation(h.ID)

	rawFields, err := r.kv.GetAllFields(ctx, h.ID)
	if err != nil {
		return nil, err
	}

	codec := recordCodec{key: h.key}
	snapshot := make(map[interfaces.FileHash]*interfaces.FileRecord, len(rawFields))
	for field, value := range rawFields {
		if strings.HasPrefix(field, reservedFieldPrefix) {
			continue
		}
		hash, hashErr := interfaces.NewFileHashFromHex(field)
		if hashErr != nil {
			r.log.Warn("Skipping field with malformed hash key",
				slog.String("context_id", h.ID.String()),
				slog.String("field", field))
			continue
		}
		rec, decErr := codec.Decode(value)
		if decErr != nil {
			// Tolerant reads: one broken record must not hide the rest.
			r.log.Warn("Skipping undecodable record",
				slog.String("context_id", h.ID.String()),
				slog.String("hash", field),
				"err", decErr)
			continue
		}
		if rec.Hash.IsZero() {
			rec.Hash = hash
		}
		snapshot[hash] = rec
	}

	r.cache.put(h.ID, h.fingerprint, snapshot, generation)
	return snapshot, nil
}
