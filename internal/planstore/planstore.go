// Package planstore resolves a plan reference into a local file the engine
// can load. References are local paths (optionally file://), gs://bucket/object
// or http(s) URLs; remote plans are downloaded into a cache directory.
package planstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cespare/xxhash/v2"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
)

const op = "planstore.Fetch"

// Options configures a Store.
type Options struct {
	// CacheDir receives downloaded plans; empty uses a directory under os.TempDir.
	CacheDir string
	// HTTPClient is used for http(s) references; nil uses http.DefaultClient.
	HTTPClient *http.Client
	// GCS is used for gs:// references; nil creates a client on first use.
	GCS *storage.Client
}

// Store fetches plans into a local cache directory.
type Store struct {
	dir  string
	http *http.Client

	mu     sync.Mutex
	gcs    *storage.Client
	ownGCS bool
}

func New(opts Options) *Store {
	s := &Store{dir: opts.CacheDir, http: opts.HTTPClient, gcs: opts.GCS}
	if s.dir == "" {
		s.dir = filepath.Join(os.TempDir(), "ignition-plans")
	}
	if s.http == nil {
		s.http = http.DefaultClient
	}
	return s
}

// Fetch returns a local path holding the plan named by ref. A missing plan
// fails with errdefs.ErrNotFound. Remote plans are always downloaded again and
// replace the cached copy atomically.
func (s *Store) Fetch(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return fetchLocal(ref)
	}
	switch u.Scheme {
	case "file":
		return fetchLocal(u.Path)
	case "gs":
		return s.fetchGCS(ctx, ref, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "http", "https":
		return s.fetchHTTP(ctx, ref)
	}
	return "", fmt.Errorf("%s: unsupported plan reference scheme %q", op, u.Scheme)
}

// Close releases the GCS client if the Store created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownGCS && s.gcs != nil {
		err := s.gcs.Close()
		s.gcs = nil
		return err
	}
	return nil
}

func fetchLocal(p string) (string, error) {
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", errdefs.Wrap(errdefs.ErrNotFound, op, err, "plan %s does not exist", p)
	}
	if err != nil {
		return "", fmt.Errorf("stat plan %s: %w", p, err)
	}
	if info.IsDir() {
		return "", errdefs.CorruptPlan(op, "plan %s is a directory", p)
	}
	return p, nil
}

func (s *Store) gcsClient(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gcs == nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS storage client: %w", err)
		}
		s.gcs, s.ownGCS = client, true
	}
	return s.gcs, nil
}

func (s *Store) fetchGCS(ctx context.Context, ref, bucket, object string) (string, error) {
	log := klog.FromContext(ctx)
	if bucket == "" || object == "" {
		return "", fmt.Errorf("%s: %q must be gs://bucket/object", op, ref)
	}

	client, err := s.gcsClient(ctx)
	if err != nil {
		return "", err
	}

	startedAt := time.Now()
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return "", errdefs.Wrap(errdefs.ErrNotFound, op, err, "plan %s does not exist", ref)
	}
	if err != nil {
		return "", fmt.Errorf("opening object from GCS %q: %w", ref, err)
	}
	defer r.Close()

	dest, n, err := s.store(ctx, ref, object, r)
	if err != nil {
		return "", err
	}
	log.Info("Downloaded plan from GCS", "source", ref, "destination", dest, "bytes", n, "duration", time.Since(startedAt))
	return dest, nil
}

func (s *Store) fetchHTTP(ctx context.Context, ref string) (string, error) {
	log := klog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", ref, err)
	}
	startedAt := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", ref, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errdefs.NotFound(op, "plan %s does not exist", ref)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("fetching %s: unexpected status %s", ref, resp.Status)
	}

	u, _ := url.Parse(ref)
	dest, n, err := s.store(ctx, ref, u.Path, resp.Body)
	if err != nil {
		return "", err
	}
	log.Info("Downloaded plan", "source", ref, "destination", dest, "bytes", n, "duration", time.Since(startedAt))
	return dest, nil
}

// store writes src to the cache entry for ref. Entries are named after a hash
// of the reference so distinct sources never collide.
func (s *Store) store(ctx context.Context, ref, name string, src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating plan cache dir: %w", err)
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		base = "plan"
	}
	dest := filepath.Join(s.dir, fmt.Sprintf("%016x-%s", xxhash.Sum64String(ref), base))
	n, err := writeToFile(ctx, src, dest)
	if err != nil {
		return "", n, err
	}
	return dest, n, nil
}

// writeToFile copies src into a temp file beside dest and renames it into
// place, so readers never observe a partial plan.
func writeToFile(ctx context.Context, src io.Reader, dest string) (int64, error) {
	log := klog.FromContext(ctx)

	tempFile, err := os.CreateTemp(filepath.Dir(dest), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "Removing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		tempFile.Close()
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), dest); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false
	return n, nil
}
