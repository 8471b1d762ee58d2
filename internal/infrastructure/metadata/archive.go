// Package metadata fetches and manages the per-task metadata archive: the
// tarball carrying workflow documents, templates and scripts.
package metadata

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const archiveName = "archive.tar.gz"

// Fetcher downloads the metadata archive and extracts it into per-hash
// working directories under the cache dir.
type Fetcher struct {
	endpoint string
	cacheDir string
	client   *http.Client
	log      zerolog.Logger
}

func NewFetcher(endpoint, cacheDir string, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		endpoint: endpoint,
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log,
	}
}

// Get fetches the archive with a conditional request keyed by the local
// copy's SHA-1 (304 means the local copy is current), then extracts it and
// returns the extraction directory. With no endpoint configured an existing
// local archive is used as-is.
func (f *Fetcher) Get(token string) (string, error) {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", err
	}
	archivePath := filepath.Join(f.cacheDir, archiveName)
	hash, err := fileSHA1(archivePath)
	if err != nil {
		return "", err
	}

	if f.endpoint == "" {
		if hash == "" {
			return "", errors.New("no metadata endpoint configured and no local archive present")
		}
		return f.unpack(archivePath, hash)
	}

	request, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return "", err
	}
	request.Header.Set("X-Auth-Token", token)
	if hash != "" {
		request.Header.Set("If-None-Match", hash)
	}

	response, err := f.client.Do(request)
	if err != nil {
		if hash != "" {
			f.log.Warn().Err(err).Msg("metadata service unreachable, using existing archive")
			return f.unpack(archivePath, hash)
		}
		return "", fmt.Errorf("cannot reach metadata service: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusNotModified:
		f.log.Debug().Msg("using existing version of metadata")
	case http.StatusOK:
		if err := f.download(response.Body, archivePath); err != nil {
			return "", err
		}
		hash, err = fileSHA1(archivePath)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("metadata service returned status %d", response.StatusCode)
	}
	return f.unpack(archivePath, hash)
}

// Release removes a task's extraction directory.
func (f *Fetcher) Release(dir string) {
	if dir == "" || !strings.HasPrefix(dir, f.cacheDir) {
		return
	}
	f.log.Debug().Str("dir", dir).Msg("deleting metadata folder")
	if err := os.RemoveAll(dir); err != nil {
		f.log.Warn().Err(err).Str("dir", dir).Msg("cannot delete metadata folder")
	}
}

func (f *Fetcher) download(body io.Reader, target string) error {
	tmp, err := os.CreateTemp(f.cacheDir, "archive-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// unpack extracts the archive into a directory named after its hash. An
// already-extracted hash is reused.
func (f *Fetcher) unpack(archivePath, hash string) (string, error) {
	target := filepath.Join(f.cacheDir, hash)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("%s is not a valid archive: %w", archivePath, err)
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		name := filepath.Clean(header.Name)
		if name == "." || strings.HasPrefix(name, "..") {
			continue
		}
		path := filepath.Join(target, name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(out, reader); err != nil {
				out.Close()
				return "", err
			}
			out.Close()
		}
	}
	return target, nil
}

// fileSHA1 hashes a file, returning "" when it does not exist.
func fileSHA1(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	digest := sha1.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", digest.Sum(nil)), nil
}
