package store

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := New(Options{RootPath: filepath.Join(t.TempDir(), "models")})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	return s
}

func TestBlobs(t *testing.T) {
	store := newTestStore(t)

	t.Run("WriteBlob with missing dir", func(t *testing.T) {
		// remove blobs directory to ensure it is recreated as needed
		if err := os.RemoveAll(store.BlobsDir()); err != nil {
			t.Fatalf("expected blobs directory not be present")
		}

		expectedContent := "some data"
		dgst := digest.FromString(expectedContent).String()

		n, err := store.WriteBlob(dgst, bytes.NewBufferString(expectedContent))
		if err != nil {
			t.Fatalf("error writing blob: %v", err)
		}
		if n != int64(len(expectedContent)) {
			t.Fatalf("unexpected byte count: got %d expected %d", n, len(expectedContent))
		}

		content, err := os.ReadFile(store.BlobPath(dgst))
		if err != nil {
			t.Fatalf("error reading blob file: %v", err)
		}
		if string(content) != expectedContent {
			t.Fatalf("unexpected blob content: got %v expected %s", string(content), expectedContent)
		}

		// ensure incomplete blob file does not exist
		tmpFile := incompletePath(store.BlobPath(dgst))
		if _, err := os.Stat(tmpFile); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected incomplete blob file %s not be present", tmpFile)
		}
	})

	t.Run("WriteBlob fails and removes incomplete file", func(t *testing.T) {
		dgst := digest.FromString("never written").String()
		if _, err := store.WriteBlob(dgst, &errorReader{}); err == nil {
			t.Fatalf("expected error writing blob")
		}
		if _, err := os.Stat(store.BlobPath(dgst)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected blob file not to exist")
		}
		if _, err := os.Stat(incompletePath(store.BlobPath(dgst))); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected incomplete blob file to be removed")
		}
	})

	t.Run("WriteBlob rejects content with the wrong digest", func(t *testing.T) {
		dgst := digest.FromString("expected").String()
		_, err := store.WriteBlob(dgst, strings.NewReader("something else"))
		require.ErrorIs(t, err, ErrDigestMismatch)
		assert.True(t, errdefs.IsDataLoss(err))
		assert.False(t, store.HasBlob(dgst))
		assert.NoFileExists(t, incompletePath(store.BlobPath(dgst)))
	})

	t.Run("WriteBlob reuses existing blob", func(t *testing.T) {
		dgst := digest.FromString("some-data").String()
		_, err := store.WriteBlob(dgst, strings.NewReader("some-data"))
		require.NoError(t, err)

		// the reader must not be consumed
		n, err := store.WriteBlob(dgst, &errorReader{})
		require.NoError(t, err)
		assert.Zero(t, n)

		content, err := os.ReadFile(store.BlobPath(dgst))
		require.NoError(t, err)
		assert.Equal(t, "some-data", string(content))
	})

	t.Run("WriteBlob rejects malformed digests", func(t *testing.T) {
		_, err := store.WriteBlob("sha256:../../etc/passwd", strings.NewReader(""))
		require.ErrorIs(t, err, ErrInvalidDigest)
		assert.True(t, errdefs.IsInvalidArgument(err))
	})
}

func TestBlobPath(t *testing.T) {
	store := newTestStore(t)
	hex := strings.Repeat("ab", 32)

	assert.Equal(t, filepath.Join(store.RootPath(), "blobs", hex), store.BlobPath("sha256:"+hex))
	assert.Equal(t, filepath.Join(store.RootPath(), "blobs", hex), store.BlobPath("sha256:"+strings.ToUpper(hex)))

	for _, bad := range []string{
		"",
		hex,
		"sha512:" + hex,
		"sha256:" + hex[:63],
		"sha256:" + hex + "0",
		"sha256:" + strings.Repeat("g", 64),
		"sha256:../" + hex[:61],
	} {
		assert.Empty(t, store.BlobPath(bad), bad)
		assert.False(t, store.HasBlob(bad), bad)
	}
}

func TestVerifyBlob(t *testing.T) {
	store := newTestStore(t)
	content := "verified content"
	dgst := digest.FromString(content).String()

	err := store.VerifyBlob(dgst)
	require.ErrorIs(t, err, ErrBlobNotFound)
	assert.True(t, errdefs.IsNotFound(err))

	_, err = store.WriteBlob(dgst, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, store.VerifyBlob(dgst))

	size, err := store.BlobSize(dgst)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)

	// corrupt the blob on disk
	require.NoError(t, os.WriteFile(store.BlobPath(dgst), []byte("tampered"), 0o644))
	err = store.VerifyBlob(dgst)
	require.ErrorIs(t, err, ErrDigestMismatch)

	require.NoError(t, store.RemoveBlob(dgst))
	assert.False(t, store.HasBlob(dgst))
	assert.ErrorIs(t, store.RemoveBlob(dgst), ErrBlobNotFound)
}

func TestInitializeIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a")
	store, err := New(Options{RootPath: root})
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Initialize())
	assert.DirExists(t, filepath.Join(root, "manifests"))
	assert.DirExists(t, filepath.Join(root, "blobs"))

	other := filepath.Join(t.TempDir(), "b")
	store.SetRootPath(other)
	assert.Equal(t, other, store.RootPath())
	require.NoError(t, store.Initialize())
	assert.DirExists(t, filepath.Join(other, "blobs"))

	_, err = New(Options{})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestSetRootPathConcurrentWithReads(t *testing.T) {
	store := newTestStore(t)
	roots := []string{filepath.Join(t.TempDir(), "x"), filepath.Join(t.TempDir(), "y")}
	dgst := digest.FromString("content").String()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			store.SetRootPath(roots[i%2])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			path := store.BlobPath(dgst)
			assert.NotEmpty(t, path)
			assert.NotEmpty(t, store.ManifestsDir())
		}
	}()
	wg.Wait()
	assert.Contains(t, roots, store.RootPath())
}

var _ io.Reader = &errorReader{}

type errorReader struct {
}

func (e errorReader) Read(p []byte) (n int, err error) {
	return 0, errors.New("fake error")
}
