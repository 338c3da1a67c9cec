package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"bricklayer/internal/manifest"
	"bricklayer/pkg/fs"
	"bricklayer/pkg/httpx"
)

// Fetch downloads a manifest's dependencies into a local directory. This is
// what a rendered Dockerfile's RUN step invokes inside the build container.
type Fetch struct {
	ManifestPath string
	IndexURL     string
	DestDir      string
}

func (f *Fetch) Complete(args []string) error {
	switch {
	case len(args) != 0:
		return fmt.Errorf("%w: fetch takes no positional arguments", errInvalidArgs)
	case f.ManifestPath == "":
		return fmt.Errorf("%w: --manifest is required", errInvalidArgs)
	case f.IndexURL == "":
		return fmt.Errorf("%w: --index is required", errInvalidArgs)
	case f.DestDir == "":
		return fmt.Errorf("%w: --dest is required", errInvalidArgs)
	}
	return nil
}

func (f *Fetch) Run(ctx context.Context) error {
	reqs, err := manifest.Load(f.ManifestPath)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return nil
	}

	resolver, err := manifest.NewIndexResolver(f.IndexURL, httpx.NewClient(indexTimeout))
	if err != nil {
		return err
	}

	files, err := resolver.Resolve(ctx, reqs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.DestDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	for _, p := range files.Paths() {
		target := filepath.Join(f.DestDir, filepath.Base(p))
		if err := fs.WriteFileAtomic(target, files[p].Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}

	fmt.Printf("fetched %d packages into %s\n", len(files), f.DestDir)
	return nil
}

func (f *Fetch) CobraCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch --manifest path --index url --dest dir",
		Short: "download manifest dependencies into a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Complete(args); err != nil {
				return err
			}
			return f.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ManifestPath, "manifest", "", "Path to the dependency manifest.")
	flags.StringVar(&f.IndexURL, "index", "", indexUse)
	flags.StringVar(&f.DestDir, "dest", "", "Directory to download archives into.")

	return cmd
}
