package oci

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"bricklayer/pkg/fs"
)

// RuntimeConfig is the startup contract recorded in the image config. Nothing
// here executes at build time; the values only describe the default process.
type RuntimeConfig struct {
	Workdir string
	User    string // "uid:gid"
	Cmd     []string
	Env     []string // KEY=VALUE, applied over the base image env
	Labels  map[string]string
}

// LayerFromFiles turns staged files into an image layer. The tar stream is
// deterministic, so equal file sets produce equal layer digests.
func LayerFromFiles(files fs.FileMap) (v1.Layer, error) {
	tarData, err := files.ToTar()
	if err != nil {
		return nil, fmt.Errorf("serialize files: %w", err)
	}

	opener := func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(tarData)), nil }

	layer, err := tarball.LayerFromOpener(opener, tarball.WithCompressedCaching)
	if err != nil {
		return nil, fmt.Errorf("create layer from tar: %w", err)
	}

	return layer, nil
}

// Assemble appends the given layers onto the base image in order and records
// the runtime config. The base image's own layers and env are preserved;
// env entries in cfg override base entries with the same key.
func Assemble(base v1.Image, layers []v1.Layer, cfg RuntimeConfig) (v1.Image, error) {
	img := base
	for i, layer := range layers {
		var err error
		img, err = mutate.Append(img, mutate.Addendum{Layer: layer})
		if err != nil {
			return nil, fmt.Errorf("append layer %d: %w", i, err)
		}
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("read image config: %w", err)
	}
	cfgFile = cfgFile.DeepCopy()

	cfgFile.Config.WorkingDir = cfg.Workdir
	cfgFile.Config.User = cfg.User
	cfgFile.Config.Cmd = cfg.Cmd
	cfgFile.Config.Entrypoint = nil
	cfgFile.Config.Env = mergeEnv(cfgFile.Config.Env, cfg.Env)
	if len(cfg.Labels) > 0 {
		if cfgFile.Config.Labels == nil {
			cfgFile.Config.Labels = map[string]string{}
		}
		for k, v := range cfg.Labels {
			cfgFile.Config.Labels[k] = v
		}
	}

	img, err = mutate.ConfigFile(img, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("write image config: %w", err)
	}

	return img, nil
}

// mergeEnv overlays extra KEY=VALUE pairs onto base, replacing entries with
// the same key while keeping base ordering stable.
func mergeEnv(base, extra []string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]int, len(base))

	for _, entry := range base {
		seen[envKey(entry)] = len(merged)
		merged = append(merged, entry)
	}

	for _, entry := range extra {
		if i, ok := seen[envKey(entry)]; ok {
			merged[i] = entry
			continue
		}
		seen[envKey(entry)] = len(merged)
		merged = append(merged, entry)
	}

	return merged
}

func envKey(entry string) string {
	key, _, _ := strings.Cut(entry, "=")
	return key
}
