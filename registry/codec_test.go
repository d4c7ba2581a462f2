package registry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecollect/file-registry-backend/interfaces"
)

func sampleRecord(t *testing.T) *interfaces.FileRecord {
	t.Helper()
	hash, err := interfaces.NewFileHashFromHex("0123456789abcdef")
	require.NoError(t, err)
	return &interfaces.FileRecord{
		Hash:            hash,
		URL:             "s3://bucket/0123456789abcdef",
		DisplayFilename: "report.pdf",
		MimeType:        "application/pdf",
		Tags:            []string{"finance", "q3"},
		Notes:           "quarterly numbers",
		Visibility:      interfaces.ScopedVisibility("chat-1"),
		AddedDate:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		LastAccessed:    time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestCodecRoundTripPlaintext(t *testing.T) {
	codec := recordCodec{}
	rec := sampleRecord(t)

	encoded, err := codec.Encode(rec)
	require.NoError(t, err)
	assert.Contains(t, encoded, "finance", "without a key, tags stay plaintext")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestCodecRoundTripEncrypted(t *testing.T) {
	key := DeriveContextKey("ctx-1", "hunter2")
	codec := recordCodec{key: key}
	rec := sampleRecord(t)
	rec.Derived = &interfaces.FileRecord{
		URL:      "s3://bucket/0123456789abcdef.png",
		MimeType: "image/png",
		Notes:    "rendered preview",
	}

	encoded, err := codec.Encode(rec)
	require.NoError(t, err)

	var stored map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(encoded), &stored))

	var tagsBlob string
	require.NoError(t, json.Unmarshal(stored["tags"], &tagsBlob))
	assert.True(t, strings.HasPrefix(tagsBlob, encPrefix))
	var notesBlob string
	require.NoError(t, json.Unmarshal(stored["notes"], &notesBlob))
	assert.True(t, strings.HasPrefix(notesBlob, encPrefix))

	// Addressing fields stay readable without the key.
	assert.NotContains(t, string(stored["url"]), encPrefix)
	assert.Contains(t, string(stored["url"]), "s3://bucket")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestCodecEncryptedDerivedNotes(t *testing.T) {
	key := DeriveContextKey("ctx-1", "hunter2")
	codec := recordCodec{key: key}
	rec := sampleRecord(t)
	rec.Derived = &interfaces.FileRecord{URL: "file:///derived", Notes: "secret"}

	encoded, err := codec.Encode(rec)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "secret")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "secret", decoded.Derived.Notes)
}

func TestCodecLegacyPlaintextWithKey(t *testing.T) {
	plain := recordCodec{}
	rec := sampleRecord(t)
	encoded, err := plain.Encode(rec)
	require.NoError(t, err)

	// A keyed codec still reads records persisted before encryption.
	keyed := recordCodec{key: DeriveContextKey("ctx-1", "hunter2")}
	decoded, err := keyed.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec.Tags, decoded.Tags)
	assert.Equal(t, rec.Notes, decoded.Notes)
}

func TestCodecWrongKeyFails(t *testing.T) {
	codec := recordCodec{key: DeriveContextKey("ctx-1", "hunter2")}
	encoded, err := codec.Encode(sampleRecord(t))
	require.NoError(t, err)

	wrong := recordCodec{key: DeriveContextKey("ctx-1", "letmein")}
	_, err = wrong.Decode(encoded)
	assert.Error(t, err)
}

func TestCodecEncryptedFieldWithoutKey(t *testing.T) {
	codec := recordCodec{key: DeriveContextKey("ctx-1", "hunter2")}
	encoded, err := codec.Encode(sampleRecord(t))
	require.NoError(t, err)

	_, err = recordCodec{}.Decode(encoded)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestDeriveContextKeyIsContextSalted(t *testing.T) {
	assert.Nil(t, DeriveContextKey("ctx-1", ""))

	a := DeriveContextKey("ctx-1", "hunter2")
	b := DeriveContextKey("ctx-2", "hunter2")
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)

	assert.Equal(t, a, DeriveContextKey("ctx-1", "hunter2"))
	assert.Empty(t, KeyFingerprint(nil))
	assert.NotEqual(t, KeyFingerprint(a), KeyFingerprint(b))
}
