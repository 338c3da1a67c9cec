package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"bricklayer/internal/manifest"
	"bricklayer/internal/recipe"
	"bricklayer/internal/store"
	"bricklayer/pkg/httpx"
	"bricklayer/pkg/lock"
	"bricklayer/pkg/oci"
)

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		From:    "scratch",
		Workdir: "/app",
		Cmd:     []string{"/app/utcnow"},
		User:    recipe.UserSpec{Name: "appuser", UID: 1000},
		Copy:    []recipe.CopyEntry{{Source: "utcnow", Dest: "/app/utcnow", Mode: "0755"}},
		Env:     map[string]string{"TIME_URL": "https://worldtimeapi.org/api/timezone/Etc/UTC"},
	}
}

func testContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "utcnow"), []byte("fake binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func loadSavedImage(t *testing.T, path, tag string) v1.Image {
	t.Helper()
	ref, err := name.NewTag(tag)
	if err != nil {
		t.Fatalf("parse tag: %v", err)
	}
	img, err := tarball.ImageFromPath(path, &ref)
	if err != nil {
		t.Fatalf("load saved image: %v", err)
	}
	return img
}

func TestBuildProducesImage(t *testing.T) {
	contextDir := testContext(t)
	outputTar := filepath.Join(t.TempDir(), "utcnow.tar")

	builder := NewBuilder(manifest.NewNoOpResolver(), lock.NewNoOpLocker(), nil)

	result, err := builder.Build(context.Background(), oci.ScratchSource{}, testRecipe(), BuildOptions{
		ContextDir: contextDir,
		Tags:       []string{"example.test/utcnow:latest"},
		OutputTar:  outputTar,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if result.Digest.String() == "" {
		t.Error("result digest is empty")
	}
	if result.BuildTime == 0 {
		t.Error("build time is zero")
	}

	img := loadSavedImage(t, outputTar, "example.test/utcnow:latest")

	cfgFile, err := img.ConfigFile()
	if err != nil {
		t.Fatalf("ConfigFile failed: %v", err)
	}
	cfg := cfgFile.Config
	if cfg.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", cfg.WorkingDir)
	}
	if cfg.User != "1000:1000" {
		t.Errorf("User = %q, want 1000:1000 (not root)", cfg.User)
	}
	if len(cfg.Cmd) != 1 || cfg.Cmd[0] != "/app/utcnow" {
		t.Errorf("Cmd = %v, want [/app/utcnow]", cfg.Cmd)
	}

	// app files layer plus the user records layer
	layers, err := img.Layers()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	if len(layers) != 2 {
		t.Errorf("image has %d layers, want 2", len(layers))
	}

	// summary lands next to the tarball
	summary, err := os.ReadFile(outputTar + ".json")
	if err != nil {
		t.Fatalf("read build summary: %v", err)
	}
	if len(summary) == 0 {
		t.Error("build summary is empty")
	}
}

func TestBuildWithManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/requests/requests-2.32.0.tar.gz" {
			_, _ = io.WriteString(w, "archive")
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := httpx.NewClient(2*time.Second, httpx.WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	resolver, err := manifest.NewIndexResolver(server.URL, client)
	if err != nil {
		t.Fatalf("NewIndexResolver failed: %v", err)
	}

	contextDir := testContext(t)
	if err := os.WriteFile(filepath.Join(contextDir, "requirements.txt"), []byte("requests==2.32.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := testRecipe()
	rec.Manifest = "requirements.txt"
	outputTar := filepath.Join(t.TempDir(), "utcnow.tar")

	builder := NewBuilder(resolver, lock.NewNoOpLocker(), nil)
	_, err = builder.Build(context.Background(), oci.ScratchSource{}, rec, BuildOptions{
		ContextDir: contextDir,
		Tags:       []string{"example.test/utcnow:latest"},
		OutputTar:  outputTar,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// deps, app files and user records: three layers, in that order
	img := loadSavedImage(t, outputTar, "example.test/utcnow:latest")
	layers, err := img.Layers()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	if len(layers) != 3 {
		t.Errorf("image has %d layers, want 3", len(layers))
	}
}

func TestBuildUnresolvableDependencyAborts(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := httpx.NewClient(2*time.Second, httpx.WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	resolver, err := manifest.NewIndexResolver(server.URL, client)
	if err != nil {
		t.Fatalf("NewIndexResolver failed: %v", err)
	}

	contextDir := testContext(t)
	if err := os.WriteFile(filepath.Join(contextDir, "requirements.txt"), []byte("ghost==1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := testRecipe()
	rec.Manifest = "requirements.txt"
	outputTar := filepath.Join(t.TempDir(), "utcnow.tar")

	builder := NewBuilder(resolver, lock.NewNoOpLocker(), nil)
	_, err = builder.Build(context.Background(), oci.ScratchSource{}, rec, BuildOptions{
		ContextDir: contextDir,
		Tags:       []string{"example.test/utcnow:latest"},
		OutputTar:  outputTar,
	})
	if !errors.Is(err, manifest.ErrUnresolvable) {
		t.Fatalf("Build error = %v, want ErrUnresolvable", err)
	}

	// no partial image
	if _, statErr := os.Stat(outputTar); statErr == nil {
		t.Error("output tar exists after failed build")
	}
}

func TestBuildMissingCopySourceAborts(t *testing.T) {
	outputTar := filepath.Join(t.TempDir(), "utcnow.tar")

	builder := NewBuilder(manifest.NewNoOpResolver(), lock.NewNoOpLocker(), nil)
	_, err := builder.Build(context.Background(), oci.ScratchSource{}, testRecipe(), BuildOptions{
		ContextDir: t.TempDir(), // empty: utcnow missing
		Tags:       []string{"example.test/utcnow:latest"},
		OutputTar:  outputTar,
	})
	if err == nil {
		t.Fatal("expected error for missing copy source")
	}

	if _, statErr := os.Stat(outputTar); statErr == nil {
		t.Error("output tar exists after failed build")
	}
}

func TestBuildRequiresTagsWhenPublishing(t *testing.T) {
	builder := NewBuilder(manifest.NewNoOpResolver(), lock.NewNoOpLocker(), nil)
	_, err := builder.Build(context.Background(), oci.ScratchSource{}, testRecipe(), BuildOptions{
		ContextDir: testContext(t),
		OutputTar:  filepath.Join(t.TempDir(), "utcnow.tar"),
	})
	if !errors.Is(err, ErrNoPublishTarget) {
		t.Fatalf("Build error = %v, want ErrNoPublishTarget", err)
	}
}

type failingSource struct{}

func (failingSource) Info() string { return "registry.invalid/missing:latest" }

func (failingSource) Fetch(ctx context.Context) (v1.Image, error) {
	return nil, fmt.Errorf("manifest unknown")
}

func TestBuildUnfetchableBaseAborts(t *testing.T) {
	builder := NewBuilder(manifest.NewNoOpResolver(), lock.NewNoOpLocker(), nil)
	_, err := builder.Build(context.Background(), failingSource{}, testRecipe(), BuildOptions{
		ContextDir: testContext(t),
	})
	if err == nil {
		t.Fatal("expected error for unfetchable base")
	}
}

func TestBuildRecordsToStore(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "bricklayer.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer db.Close()

	builder := NewBuilder(manifest.NewNoOpResolver(), lock.NewNoOpLocker(), db)

	result, err := builder.Build(ctx, oci.ScratchSource{}, testRecipe(), BuildOptions{
		RecipePath: "build.toml",
		ContextDir: testContext(t),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.BuildID == "" {
		t.Fatal("result has no build id")
	}

	record, err := store.GetBuildByID(ctx, db, result.BuildID)
	if err != nil {
		t.Fatalf("GetBuildByID failed: %v", err)
	}
	if record.Status != store.StatusSucceeded {
		t.Errorf("status = %q, want %q", record.Status, store.StatusSucceeded)
	}
	if record.Digest == nil || *record.Digest != result.Digest.String() {
		t.Errorf("recorded digest = %v, want %s", record.Digest, result.Digest)
	}

	// a failing build is recorded too
	_, err = builder.Build(ctx, failingSource{}, testRecipe(), BuildOptions{
		RecipePath: "build.toml",
		ContextDir: testContext(t),
	})
	if err == nil {
		t.Fatal("expected build failure")
	}

	builds, err := store.ListBuilds(ctx, db, 10)
	if err != nil {
		t.Fatalf("ListBuilds failed: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("store has %d builds, want 2", len(builds))
	}
	if builds[0].Status != store.StatusFailed {
		t.Errorf("latest build status = %q, want %q", builds[0].Status, store.StatusFailed)
	}
}
