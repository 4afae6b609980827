package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files/",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	key := "exports/usage-2026-03.csv"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("account_id,actions\n"), PutOptions{}))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "account_id,actions\n", string(body))
	assert.Equal(t, int64(len(body)), info.Size)
	assert.Contains(t, info.ContentType, "csv")

	url, err := s.URL(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/exports/usage-2026-03.csv", url)
}

func TestLocalStorage_Overwrite(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	key := "exports/usage-2026-02.csv"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("v1"), PutOptions{}))

	err := s.Put(ctx, key, strings.NewReader("v2"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, key, strings.NewReader("v2"), PutOptions{Overwrite: true}))
	rc, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "v2", string(body))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../secret", "exports/../../etc/passwd", "/abs"} {
		t.Run(key, func(t *testing.T) {
			err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestLocalStorage_Missing(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "exports/none.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Get(ctx, "exports/none.csv")
	assert.True(t, IsNotFound(err))
}

func TestUsageExportKey(t *testing.T) {
	ts := time.Date(2026, 1, 31, 23, 30, 0, 0, time.FixedZone("PST", -8*3600))
	assert.Equal(t, "exports/usage-2026-02.csv", UsageExportKey(ts))
	assert.Equal(t, "exports/usage-2026-03.csv", UsageExportKey(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "gcs"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestTranslateS3Error(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
		wantSentinel error
	}{
		{"missing key", &types.NoSuchKey{}, true, ErrNotFound},
		{"head on missing object", &types.NotFound{}, true, ErrNotFound},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, true, ErrNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false, ErrAccessDenied},
		{"network", errors.New("dial tcp: i/o timeout"), false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateS3Error(tt.err)
			assert.Equal(t, tt.wantNotFound, IsNotFound(got))
			if tt.wantSentinel != nil {
				assert.ErrorIs(t, got, tt.wantSentinel)
			}
		})
	}
}
