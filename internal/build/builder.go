// Package build orchestrates image builds from a recipe. Steps run
// sequentially and the first failure aborts the whole build; no partial
// image is ever published.
package build

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"

	"bricklayer/internal/manifest"
	"bricklayer/internal/recipe"
	"bricklayer/internal/store"
	"bricklayer/pkg/fs"
	"bricklayer/pkg/lock"
	"bricklayer/pkg/oci"
)

var ErrNoPublishTarget = errors.New("build needs tags with an output path or push")

// BuildOptions selects where the assembled image goes.
type BuildOptions struct {
	// RecipePath is recorded in the build store.
	RecipePath string
	// ContextDir anchors the recipe's relative paths (manifest, copy sources).
	ContextDir string
	// Tags name the image. Required when publishing.
	Tags []string
	// OutputTar, when set, receives a docker-loadable tarball.
	OutputTar string
	// Push uploads the image to every tag reference.
	Push bool
}

// BuildResult describes a completed build.
type BuildResult struct {
	BuildID   string            `json:"build_id"`
	Digest    digest.Digest     `json:"digest"`
	Tags      []string          `json:"tags,omitempty"`
	OutputTar string            `json:"output_tar,omitempty"`
	Config    oci.RuntimeConfig `json:"config"`
	BuildTime time.Duration     `json:"build_time"`
}

// Builder assembles images. Concurrent builds of the same base are
// serialized through the locker; the store (optional) records every attempt.
type Builder struct {
	resolver manifest.Resolver
	locker   lock.Locker
	db       *sql.DB
	logger   *slog.Logger
}

// NewBuilder wires a builder. db may be nil to skip build records.
func NewBuilder(resolver manifest.Resolver, locker lock.Locker, db *sql.DB) *Builder {
	return &Builder{
		resolver: resolver,
		locker:   locker,
		db:       db,
		logger:   slog.Default(),
	}
}

// Build runs the full build: fetch base, resolve dependencies, copy files,
// bake the runtime user, record the startup config, publish.
func (b *Builder) Build(ctx context.Context, source oci.BaseSource, rec *recipe.Recipe, opts BuildOptions) (*BuildResult, error) {
	startTime := time.Now()

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipe: %w", err)
	}
	if (opts.OutputTar != "" || opts.Push) && len(opts.Tags) == 0 {
		return nil, ErrNoPublishTarget
	}

	logger := b.logger.With("base", source.Info())
	logger.InfoContext(ctx, "starting build")

	var buildID string
	if b.db != nil {
		record, err := store.InsertBuild(ctx, b.db, opts.RecipePath, rec.From)
		if err != nil {
			return nil, fmt.Errorf("record build: %w", err)
		}
		buildID = record.ID
		logger = logger.With("buildID", buildID)
	}

	result, err := b.run(ctx, logger, source, rec, opts)
	if b.db != nil {
		if err != nil {
			if dbErr := store.FailBuild(ctx, b.db, buildID, err.Error()); dbErr != nil {
				logger.ErrorContext(ctx, "could not record build failure", "error", dbErr)
			}
		} else if dbErr := store.FinishBuild(ctx, b.db, buildID, result.Digest.String()); dbErr != nil {
			logger.ErrorContext(ctx, "could not record build success", "error", dbErr)
		}
	}
	if err != nil {
		return nil, err
	}

	result.BuildID = buildID
	result.BuildTime = time.Since(startTime)
	logger.InfoContext(ctx, "build completed",
		"digest", result.Digest.String(),
		"duration", result.BuildTime)

	return result, nil
}

func (b *Builder) run(ctx context.Context, logger *slog.Logger, source oci.BaseSource, rec *recipe.Recipe, opts BuildOptions) (*BuildResult, error) {
	held, err := b.locker.AcquireLock(ctx, digest.FromString(source.Info()))
	if err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	defer func() { _ = held.Release() }()

	// step 1: select base runtime
	base, err := source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("select base: %w", err)
	}
	logger.InfoContext(ctx, "base image fetched")

	var layers []v1.Layer

	// step 2: install dependencies from the manifest
	depLayer, err := b.dependencyLayer(ctx, rec, opts.ContextDir)
	if err != nil {
		return nil, err
	}
	if depLayer != nil {
		layers = append(layers, depLayer)
	}

	// step 3: copy application files
	appLayer, err := applicationLayer(rec, opts.ContextDir)
	if err != nil {
		return nil, err
	}
	if appLayer != nil {
		layers = append(layers, appLayer)
	}

	// step 4: bake the runtime identity
	userLayer, err := oci.LayerFromFiles(fs.AccountRecords(rec.User.Account()))
	if err != nil {
		return nil, fmt.Errorf("bake runtime user: %w", err)
	}
	layers = append(layers, userLayer)

	// step 5: record workdir, user and startup command; nothing executes here
	cfg := oci.RuntimeConfig{
		Workdir: rec.Workdir,
		User:    rec.User.RuntimeUser(),
		Cmd:     rec.Cmd,
		Env:     envList(rec.Env),
		Labels:  rec.Labels,
	}

	img, err := oci.Assemble(base, layers, cfg)
	if err != nil {
		return nil, fmt.Errorf("assemble image: %w", err)
	}

	imgDigest, err := oci.ImageDigest(img)
	if err != nil {
		return nil, err
	}

	// step 6: publish
	result := &BuildResult{
		Digest:    imgDigest,
		Tags:      opts.Tags,
		OutputTar: opts.OutputTar,
		Config:    cfg,
	}

	if opts.OutputTar != "" {
		if err := oci.SaveTar(opts.OutputTar, opts.Tags, img); err != nil {
			return nil, err
		}
		if err := writeSummary(opts.OutputTar+".json", result); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "image saved", "path", opts.OutputTar)
	}

	if opts.Push {
		if err := oci.Push(ctx, opts.Tags, img); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "image pushed", "tags", opts.Tags)
	}

	return result, nil
}

// dependencyLayer loads the manifest and resolves it into one layer. A
// missing manifest declaration means no layer at all.
func (b *Builder) dependencyLayer(ctx context.Context, rec *recipe.Recipe, contextDir string) (v1.Layer, error) {
	if rec.Manifest == "" {
		return nil, nil
	}

	reqs, err := manifest.Load(filepath.Join(contextDir, rec.Manifest))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	files, err := b.resolver.Resolve(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("install dependencies: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	layer, err := oci.LayerFromFiles(files)
	if err != nil {
		return nil, fmt.Errorf("dependency layer: %w", err)
	}
	return layer, nil
}

// applicationLayer stages every copy entry. A missing source aborts the
// build before anything is published.
func applicationLayer(rec *recipe.Recipe, contextDir string) (v1.Layer, error) {
	if len(rec.Copy) == 0 {
		return nil, nil
	}

	files := fs.NewFileMap()
	for _, entry := range rec.Copy {
		source := filepath.Join(contextDir, entry.Source)
		if err := files.AddFile(source, entry.Dest); err != nil {
			return nil, fmt.Errorf("copy %s: %w", entry.Source, err)
		}

		mode, err := entry.FileMode()
		if err != nil {
			return nil, err
		}
		if mode != 0 {
			overrideMode(files, entry.Dest, mode)
		}
	}

	layer, err := oci.LayerFromFiles(files)
	if err != nil {
		return nil, fmt.Errorf("application layer: %w", err)
	}
	return layer, nil
}

// overrideMode applies an explicit copy mode to the staged file, or to every
// file below dest when the entry copied a directory.
func overrideMode(files fs.FileMap, dest string, mode int64) {
	dest = fs.NormalizePath(dest)
	for _, p := range files.Paths() {
		if p == dest || strings.HasPrefix(p, dest+"/") {
			file := files[p]
			file.Mode = mode
			files[p] = file
		}
	}
}

// envList flattens the recipe env map into sorted KEY=VALUE entries, so the
// image config and digest stay reproducible.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, k+"="+env[k])
	}
	return entries
}

// writeSummary publishes the build result next to the tarball, atomically so
// a watcher never reads a half-written file.
func writeSummary(path string, result *BuildResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode build summary: %w", err)
	}
	if err := fs.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write build summary: %w", err)
	}
	return nil
}
