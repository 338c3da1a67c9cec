package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/cobra"

	"bricklayer/internal/build"
	"bricklayer/internal/manifest"
	"bricklayer/internal/recipe"
	"bricklayer/internal/store"
	"bricklayer/pkg/httpx"
	"bricklayer/pkg/lock"
	"bricklayer/pkg/oci"
)

const (
	buildUse   = "build recipe_path [--tag tag]... [--output tar_path] [--push]"
	buildShort = "build an image from a recipe"
	buildLong  = "Builds an OCI image from the given recipe and writes it to a tarball and/or pushes it to a registry."
	tagUse     = "Tag to assign to the image. May be given multiple times. Required with --output or --push."
	outputUse  = "Path to write a docker-loadable tarball to. A .json build summary lands next to it."
	pushUse    = "Push the image to every tag reference."
	contextUse = "Build context directory. Defaults to the recipe's directory."
	indexUse   = "Package index base URL for resolving the dependency manifest."
	dbUse      = "Path to the build record database. Empty disables recording."
	lockDirUse = "Directory for build lock files."

	indexTimeout   = 60 * time.Second
	defaultLockRel = "bricklayer-locks"
)

var errInvalidArgs = errors.New("invalid arguments")

type Build struct {
	RecipePath string
	ContextDir string
	Tags       []string
	OutputTar  string
	Push       bool
	IndexURL   string
	DBPath     string
	LockDir    string
}

func (b *Build) Complete(args []string) error {
	switch {
	case len(args) != 1:
		return fmt.Errorf("%w: need exactly one recipe path, got %d args", errInvalidArgs, len(args))
	case args[0] == "":
		return fmt.Errorf("%w: recipe path empty", errInvalidArgs)
	case (b.OutputTar != "" || b.Push) && len(b.Tags) == 0:
		return fmt.Errorf("%w: output or push requested but no tags set", errInvalidArgs)
	}

	for _, tag := range b.Tags {
		if _, err := name.ParseReference(tag); err != nil {
			return fmt.Errorf("invalid tag %q: %w", tag, err)
		}
	}

	b.RecipePath = args[0]
	if b.ContextDir == "" {
		b.ContextDir = filepath.Dir(b.RecipePath)
	}
	if b.LockDir == "" {
		b.LockDir = filepath.Join(os.TempDir(), defaultLockRel)
	}

	return nil
}

func (b *Build) Run(ctx context.Context) error {
	rec, err := recipe.Load(b.RecipePath)
	if err != nil {
		return err
	}

	source, err := oci.ResolveSource(rec.From)
	if err != nil {
		return err
	}

	resolver, err := b.resolver(rec)
	if err != nil {
		return err
	}

	locker, err := lock.NewFileLocker(b.LockDir)
	if err != nil {
		return err
	}

	var db *sql.DB
	if b.DBPath != "" {
		db, err = store.Open(ctx, b.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	builder := build.NewBuilder(resolver, locker, db)
	result, err := builder.Build(ctx, source, rec, build.BuildOptions{
		RecipePath: b.RecipePath,
		ContextDir: b.ContextDir,
		Tags:       b.Tags,
		OutputTar:  b.OutputTar,
		Push:       b.Push,
	})
	if err != nil {
		return err
	}

	fmt.Printf("built %s\n", result.Digest)
	if result.OutputTar != "" {
		fmt.Printf("saved %s\n", result.OutputTar)
	}
	return nil
}

// resolver picks the dependency resolver. A recipe without a manifest never
// touches the index; a recipe with one requires --index.
func (b *Build) resolver(rec *recipe.Recipe) (manifest.Resolver, error) {
	if rec.Manifest == "" {
		return manifest.NewNoOpResolver(), nil
	}
	if b.IndexURL == "" {
		return nil, fmt.Errorf("%w: recipe declares a manifest but no --index is set", errInvalidArgs)
	}
	return manifest.NewIndexResolver(b.IndexURL, httpx.NewClient(indexTimeout))
}

func (b *Build) CobraCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   buildUse,
		Short: buildShort,
		Long:  buildLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := b.Complete(args); err != nil {
				return err
			}
			return b.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&b.Tags, "tag", "t", nil, tagUse)
	flags.StringVarP(&b.OutputTar, "output", "o", "", outputUse)
	flags.BoolVar(&b.Push, "push", false, pushUse)
	flags.StringVar(&b.ContextDir, "context", "", contextUse)
	flags.StringVar(&b.IndexURL, "index", "", indexUse)
	flags.StringVar(&b.DBPath, "db", "", dbUse)
	flags.StringVar(&b.LockDir, "lock-dir", "", lockDirUse)

	return cmd
}
