package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/config"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	body := "hello upload"
	require.NoError(t, s.Upload(ctx, "ab/cd.png", strings.NewReader(body), int64(len(body)), "image/png"))

	ok, err := s.Exists(ctx, "ab/cd.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, "ab/cd.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	require.NoError(t, s.Delete(ctx, "ab/cd.png"))
	require.NoError(t, s.Delete(ctx, "ab/cd.png"))

	ok, err = s.Exists(ctx, "ab/cd.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, "ab/cd.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_KeysStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	p, err := s.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root))

	_, err = s.path("/")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://acct.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/bucket"))
}
