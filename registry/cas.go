package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/metrics"
)

const (
	// collectionVersionField is the reserved KV field holding the
	// collection's version token. Reserved fields never decode as records.
	collectionVersionField = "__collection_version"

	// reservedFieldPrefix marks KV fields that are not record entries.
	reservedFieldPrefix = "__"

	// casMaxAttempts bounds the swap retry loop. Exhaustion surfaces
	// ErrConcurrencyExhausted, never a silent drop.
	casMaxAttempts = 5

	// casMaxDelay caps the doubling backoff between attempts.
	casMaxDelay = 2 * time.Second
)

// newVersionToken generates an opaque version token. The timestamp makes
// tokens roughly ordered for debugging; the uuid disambiguates writers
// sharing a clock tick and tolerates skew across processes.
func newVersionToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
}

// snapshotTransform mutates a private copy of the collection. It must be
// pure: no I/O, no retained references, safe to re-run on retry.
type snapshotTransform func(map[interfaces.FileHash]*interfaces.FileRecord) (map[interfaces.FileHash]*interfaces.FileRecord, error)

// swap applies a transform to the whole collection under optimistic
// concurrency: read token and snapshot, transform a copy, re-check the
// token immediately before writing, persist with a fresh token on success
// and retry with doubling backoff on conflict.
func (r *Registry) swap(ctx context.Context, h ContextHandle, transform snapshotTransform) error {
	if err := h.ID.Validate(); err != nil {
		return err
	}
	codec := recordCodec{key: h.key}

	backoff := retry.WithMaxRetries(casMaxAttempts-1,
		retry.WithCappedDuration(casMaxDelay, retry.NewExponential(r.casBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		// Store failures are retryable inside the swap: a transient outage
		// costs an attempt, not the whole batch.
		token, _, err := r.kv.GetField(ctx, h.ID, collectionVersionField)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read version token: %w", err))
		}

		rawFields, err := r.kv.GetAllFields(ctx, h.ID)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read collection: %w", err))
		}

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
				r.log.Warn("Skipping undecodable record",
					slog.String("context_id", h.ID.String()),
					slog.String("hash", field),
					"err", decErr)
				continue
			}
			snapshot[hash] = rec
		}

		updated, err := transform(cloneSnapshot(snapshot))
		if err != nil {
			return fmt.Errorf("swap transform failed: %w", err)
		}

		// Re-check the token immediately before writing.
		current, _, err := r.kv.GetField(ctx, h.ID, collectionVersionField)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to re-read version token: %w", err))
		}
		if current != token {
			metrics.CASConflictsTotal.Inc()
			return retry.RetryableError(interfaces.ErrVersionConflict)
		}

		if err := r.persistDelta(ctx, h, codec, snapshot, updated); err != nil {
			return retry.RetryableError(err)
		}
		if err := r.kv.SetField(ctx, h.ID, collectionVersionField, newVersionToken(r.now())); err != nil {
			return retry.RetryableError(fmt.Errorf("failed to write version token: %w", err))
		}

		r.cache.invalidate(h.ID)
		return nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			metrics.CASExhaustedTotal.Inc()
			return fmt.Errorf("%w: gave up after %d attempts", interfaces.ErrConcurrencyExhausted, casMaxAttempts)
		}
		return err
	}
	return nil
}

// persistDelta writes only fields the transform actually changed, plus
// deletions. Each field write is a whole-record atomic operation.
func (r *Registry) persistDelta(ctx context.Context, h ContextHandle, codec recordCodec,
	before, after map[interfaces.FileHash]*interfaces.FileRecord,
) error {
	for hash, rec := range after {
		// Encryption makes encoding non-deterministic, so unchanged
		// records are detected on the decoded form.
		if prev, ok := before[hash]; ok && reflect.DeepEqual(prev, rec) {
			continue
		}
		encoded, err := codec.Encode(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", hash, err)
		}
		if err := r.kv.SetField(ctx, h.ID, hash.String(), encoded); err != nil {
			return fmt.Errorf("failed to write record %s: %w", hash, err)
		}
	}

	for hash := range before {
		if _, ok := after[hash]; !ok {
			if err := r.kv.DeleteField(ctx, h.ID, hash.String()); err != nil {
				return fmt.Errorf("failed to delete record %s: %w", hash, err)
			}
		}
	}
	return nil
}

func cloneSnapshot(snapshot map[interfaces.FileHash]*interfaces.FileRecord) map[interfaces.FileHash]*interfaces.FileRecord {
	out := make(map[interfaces.FileHash]*interfaces.FileRecord, len(snapshot))
	for hash, rec := range snapshot {
		out[hash] = rec.Clone()
	}
	return out
}
