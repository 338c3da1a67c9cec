package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"

	"bricklayer/pkg/fs"
	"bricklayer/pkg/httpx"
)

// DepsDir is where resolved dependency archives land inside the image.
const DepsDir = "opt/bricklayer/deps"

// maxArchiveBytes caps a single dependency download.
const maxArchiveBytes = 256 << 20

var ErrUnresolvable = errors.New("package not found in index")

// Resolver turns requirements into staged layer files.
type Resolver interface {
	Resolve(ctx context.Context, reqs []Requirement) (fs.FileMap, error)
}

// IndexResolver fetches requirement archives from an HTTP package index at
// <index>/<name>/<name>-<version>.tar.gz (unpinned: <name>-latest.tar.gz).
// Any package the index cannot serve aborts the resolve.
type IndexResolver struct {
	indexURL string
	client   *httpx.Client
	logger   *slog.Logger
}

// NewIndexResolver creates a resolver against the given index base URL.
func NewIndexResolver(indexURL string, client *httpx.Client) (*IndexResolver, error) {
	parsed, err := url.Parse(indexURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid index URL %q", indexURL)
	}

	return &IndexResolver{
		indexURL: parsed.String(),
		client:   client,
		logger:   slog.Default(),
	}, nil
}

// Resolve downloads every requirement. The returned FileMap places each
// archive under DepsDir, so the whole result can be appended as one layer.
func (r *IndexResolver) Resolve(ctx context.Context, reqs []Requirement) (fs.FileMap, error) {
	files := fs.NewFileMap()

	for _, req := range reqs {
		data, err := r.fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", req, err)
		}
		files.Add(path.Join(DepsDir, archiveName(req)), data, 0o644)
		r.logger.InfoContext(ctx, "dependency resolved", "requirement", req.String(), "bytes", len(data))
	}

	return files, nil
}

func (r *IndexResolver) fetch(ctx context.Context, req Requirement) ([]byte, error) {
	archiveURL := r.indexURL + "/" + req.Name + "/" + archiveName(req)

	resp, err := r.client.Get(ctx, archiveURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, archiveURL)
	default:
		return nil, fmt.Errorf("index returned status %d for %s", resp.StatusCode, archiveURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}

	return data, nil
}

func archiveName(req Requirement) string {
	version := req.Version
	if version == "" {
		version = "latest"
	}
	return req.Name + "-" + version + ".tar.gz"
}

// NoOpResolver resolves everything to nothing. For tests and manifest-less
// builds.
type NoOpResolver struct{}

func NewNoOpResolver() *NoOpResolver {
	return &NoOpResolver{}
}

func (r *NoOpResolver) Resolve(ctx context.Context, reqs []Requirement) (fs.FileMap, error) {
	return fs.NewFileMap(), nil
}
