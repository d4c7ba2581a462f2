package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/filecollect/file-registry-backend/contenthash"
	"github.com/filecollect/file-registry-backend/interfaces"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	args := m.Called(ctx, data, hash)
	return args.String(0), args.Error(1)
}

func (m *MockStorageBackend) Download(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	args := m.Called(ctx, urlOrPrefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorageBackend) Exists(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:"
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMirroredBackend_UploadPrimaryAuthoritative(t *testing.T) {
	data := []byte("payload")
	hash := contenthash.Sum(data)

	primary := &MockStorageBackend{name: "mock-primary"}
	primary.On("Upload", mock.Anything, data, hash).Return("mem://primary/"+hash.String(), nil)

	replica := &MockStorageBackend{name: "mock-replica"}
	replica.On("Upload", mock.Anything, data, hash).Return("mem://replica/"+hash.String(), nil)

	mirror, err := NewMirroredBackend([]interfaces.StorageBackend{primary, replica}, discardLogger())
	require.NoError(t, err)

	url, err := mirror.Upload(context.Background(), data, hash)
	require.NoError(t, err)
	assert.Equal(t, "mem://primary/"+hash.String(), url)

	mirror.Flush()
	primary.AssertExpectations(t)
	replica.AssertExpectations(t)
}

func TestMirroredBackend_ReplicaFailureIgnored(t *testing.T) {
	data := []byte("payload")
	hash := contenthash.Sum(data)

	primary := &MockStorageBackend{name: "mock-primary"}
	primary.On("Upload", mock.Anything, data, hash).Return("mem://primary/"+hash.String(), nil)

	replica := &MockStorageBackend{name: "mock-replica"}
	replica.On("Upload", mock.Anything, data, hash).Return("", errors.New("replica down"))

	mirror, err := NewMirroredBackend([]interfaces.StorageBackend{primary, replica}, discardLogger())
	require.NoError(t, err)

	url, err := mirror.Upload(context.Background(), data, hash)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	mirror.Flush()
}

func TestMirroredBackend_PrimaryFailureFatal(t *testing.T) {
	data := []byte("payload")
	hash := contenthash.Sum(data)

	primary := &MockStorageBackend{name: "mock-primary"}
	primary.On("Upload", mock.Anything, data, hash).Return("", errors.New("bucket gone"))

	replica := &MockStorageBackend{name: "mock-replica"}

	mirror, err := NewMirroredBackend([]interfaces.StorageBackend{primary, replica}, discardLogger())
	require.NoError(t, err)

	_, err = mirror.Upload(context.Background(), data, hash)
	assert.Error(t, err)
	mirror.Flush()
	// The replica must never be written when the primary failed.
	replica.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestMirroredBackend_DownloadFallback(t *testing.T) {
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StorageBackend
		expectedData  []byte
		expectedError bool
	}{
		{
			name: "primary serves",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Download", mock.Anything, "mem://a/x").Return(testData, nil)
				return []interfaces.StorageBackend{mock1}
			},
			expectedData: testData,
		},
		{
			name: "fallback to replica",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Download", mock.Anything, "mem://a/x").Return(nil, testErr)
				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Download", mock.Anything, "mem://a/x").Return(testData, nil)
				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "unavailable primary skipped",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Download", mock.Anything, "mem://a/x").Return(testData, nil)
				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Download", mock.Anything, "mem://a/x").Return(nil, testErr)
				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Download", mock.Anything, "mem://a/x").Return(nil, testErr)
				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirror, err := NewMirroredBackend(tt.setupMocks(), discardLogger())
			require.NoError(t, err)

			data, err := mirror.Download(context.Background(), "mem://a/x")
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedData, data)
		})
	}
}

func TestMirroredBackend_LocationURI(t *testing.T) {
	var backends []interfaces.StorageBackend
	for i := 0; i < 2; i++ {
		backends = append(backends, &MockStorageBackend{name: fmt.Sprintf("mock-%d", i)})
	}
	mirror, err := NewMirroredBackend(backends, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "mirror:[mock:,mock:]", mirror.LocationURI())
}
