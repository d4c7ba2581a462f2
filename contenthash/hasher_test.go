package contenthash

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	data := []byte("the same bytes")
	assert.Equal(t, Sum(data), Sum(data))
	assert.NotEqual(t, Sum(data), Sum([]byte("different bytes")))
	assert.Len(t, Sum(data).String(), 16)
}

func TestStreamingMatchesWholeBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)

	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	// Feed in uneven chunks.
	for i := 0; i < len(data); i += 377 {
		end := min(i+377, len(data))
		_, err := h.Write(data[i:end])
		require.NoError(t, err)
	}

	assert.Equal(t, Sum(data), h.Sum())
}

func TestSumReader(t *testing.T) {
	h, err := SumReader(strings.NewReader("stream me"))
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("stream me")), h)
}

func TestConcurrentHashers(t *testing.T) {
	data := []byte("concurrent payload")
	want := Sum(data)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := New()
			assert.NoError(t, err)
			defer h.Close()
			_, _ = h.Write(data)
			assert.Equal(t, want, h.Sum())
		}()
	}
	wg.Wait()
}
