package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildComplete(t *testing.T) {
	tests := []struct {
		name    string
		build   Build
		args    []string
		wantErr bool
	}{
		{
			name:  "plain build",
			build: Build{},
			args:  []string{"build.toml"},
		},
		{
			name:  "output with tag",
			build: Build{OutputTar: "out.tar", Tags: []string{"example.test/app:latest"}},
			args:  []string{"build.toml"},
		},
		{
			name:    "no recipe path",
			build:   Build{},
			args:    []string{},
			wantErr: true,
		},
		{
			name:    "too many args",
			build:   Build{},
			args:    []string{"a.toml", "b.toml"},
			wantErr: true,
		},
		{
			name:    "output without tags",
			build:   Build{OutputTar: "out.tar"},
			args:    []string{"build.toml"},
			wantErr: true,
		},
		{
			name:    "push without tags",
			build:   Build{Push: true},
			args:    []string{"build.toml"},
			wantErr: true,
		},
		{
			name:    "invalid tag",
			build:   Build{Push: true, Tags: []string{"NOT A TAG"}},
			args:    []string{"build.toml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build.Complete(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Complete() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildCompleteDefaultsContextToRecipeDir(t *testing.T) {
	b := Build{}
	if err := b.Complete([]string{"/srv/recipes/build.toml"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if b.ContextDir != "/srv/recipes" {
		t.Errorf("ContextDir = %q, want /srv/recipes", b.ContextDir)
	}
	if b.LockDir == "" {
		t.Error("LockDir not defaulted")
	}
}

func TestBuildRunEndToEnd(t *testing.T) {
	contextDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(contextDir, "utcnow"), []byte("fake binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	recipePath := filepath.Join(contextDir, "build.toml")
	recipeText := `
from = "scratch"
workdir = "/app"
cmd = ["/app/utcnow"]

[user]
name = "appuser"
uid = 1000

[[copy]]
source = "utcnow"
dest = "/app/utcnow"
`
	if err := os.WriteFile(recipePath, []byte(recipeText), 0o644); err != nil {
		t.Fatal(err)
	}

	outputTar := filepath.Join(t.TempDir(), "utcnow.tar")
	b := Build{
		Tags:      []string{"example.test/utcnow:latest"},
		OutputTar: outputTar,
		LockDir:   filepath.Join(t.TempDir(), "locks"),
		DBPath:    filepath.Join(t.TempDir(), "bricklayer.db"),
	}
	if err := b.Complete([]string{recipePath}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(outputTar); err != nil {
		t.Errorf("output tar missing: %v", err)
	}
	if _, err := os.Stat(b.DBPath); err != nil {
		t.Errorf("build database missing: %v", err)
	}
}

func TestBuildRunManifestRequiresIndex(t *testing.T) {
	contextDir := t.TempDir()
	recipePath := filepath.Join(contextDir, "build.toml")
	recipeText := `
from = "scratch"
workdir = "/app"
manifest = "requirements.txt"
cmd = ["/app/utcnow"]

[user]
name = "appuser"
uid = 1000
`
	if err := os.WriteFile(recipePath, []byte(recipeText), 0o644); err != nil {
		t.Fatal(err)
	}

	b := Build{LockDir: filepath.Join(t.TempDir(), "locks")}
	if err := b.Complete([]string{recipePath}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	err := b.Run(context.Background())
	if !errors.Is(err, errInvalidArgs) {
		t.Fatalf("Run error = %v, want errInvalidArgs", err)
	}
}
