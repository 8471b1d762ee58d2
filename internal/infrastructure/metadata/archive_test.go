package metadata

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buffer.Bytes()
}

func TestGetDownloadsAndExtracts(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"workflows/main.xml": `<workflow/>`,
	})
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") != "" && requests > 1 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write(archive)
	}))
	defer server.Close()

	cache := t.TempDir()
	fetcher := NewFetcher(server.URL, cache, zerolog.Nop())

	dir, err := fetcher.Get("token")
	require.NoError(t, err)
	body, err := os.ReadFile(filepath.Join(dir, "workflows", "main.xml"))
	require.NoError(t, err)
	assert.Equal(t, `<workflow/>`, string(body))

	// Second fetch sends the hash and reuses the local copy on 304.
	again, err := fetcher.Get("token")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.Equal(t, 2, requests)

	fetcher.Release(dir)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestGetWithoutEndpointUsesLocalArchive(t *testing.T) {
	cache := t.TempDir()
	archive := buildArchive(t, map[string]string{"templates/cf/test.template": "{}"})
	require.NoError(t, os.WriteFile(filepath.Join(cache, "archive.tar.gz"), archive, 0o644))

	fetcher := NewFetcher("", cache, zerolog.Nop())
	dir, err := fetcher.Get("token")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "templates", "cf", "test.template"))
}

func TestGetWithoutEndpointOrArchiveFails(t *testing.T) {
	fetcher := NewFetcher("", t.TempDir(), zerolog.Nop())
	_, err := fetcher.Get("token")
	assert.Error(t, err)
}

func TestReleaseRefusesForeignPaths(t *testing.T) {
	cache := t.TempDir()
	foreign := t.TempDir()
	fetcher := NewFetcher("", cache, zerolog.Nop())
	fetcher.Release(foreign)
	_, err := os.Stat(foreign)
	assert.NoError(t, err, "paths outside the cache dir are never removed")
}
