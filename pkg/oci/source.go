// Package oci fetches base images, assembles layered images and publishes
// the result to a tarball or a registry.
package oci

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ScratchRef is the pseudo reference for an empty base.
const ScratchRef = "scratch"

// BaseSource abstracts where the base image comes from (registry, scratch, ...).
type BaseSource interface {
	// Fetch resolves the base image. For a registry source this downloads the
	// manifest and config; layer content stays lazy until the image is written.
	Fetch(ctx context.Context) (v1.Image, error)
	Info() string
}

// ResolveSource picks the BaseSource for an image reference. "scratch" maps
// to an empty base, everything else is treated as a registry reference.
func ResolveSource(imageRef string) (BaseSource, error) {
	if imageRef == ScratchRef {
		return ScratchSource{}, nil
	}
	return NewRegistrySource(imageRef)
}

// RegistrySource fetches a base image from a container registry using
// go-containerregistry, pinned to the linux platform of the build host.
//
// References may be short ("python:3.12-slim" defaults to docker.io/library)
// or fully qualified ("ghcr.io/owner/repo:tag", "localhost:5000/image:tag").
type RegistrySource struct {
	imageRef name.Reference
}

// NewRegistrySource creates a source for the given image reference.
func NewRegistrySource(imageRef string) (*RegistrySource, error) {
	ref, err := name.ParseReference(normalizeRef(imageRef))
	if err != nil {
		return nil, fmt.Errorf("invalid image reference: %w", err)
	}

	return &RegistrySource{imageRef: ref}, nil
}

func (s *RegistrySource) Info() string {
	return s.imageRef.String()
}

func (s *RegistrySource) Fetch(ctx context.Context) (v1.Image, error) {
	platform, err := v1.ParsePlatform("linux/" + runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("parse platform: %w", err)
	}

	img, err := remote.Image(s.imageRef, remote.WithContext(ctx), remote.WithPlatform(*platform))
	if err != nil {
		return nil, fmt.Errorf("fetch base image %s: %w", s.imageRef, err)
	}

	return img, nil
}

// normalizeRef adds the docker.io default when no registry is specified.
func normalizeRef(imageRef string) string {
	if !strings.Contains(imageRef, "/") {
		return "docker.io/library/" + imageRef
	}
	first := strings.Split(imageRef, "/")[0]
	if !strings.Contains(first, ".") && !strings.Contains(first, ":") {
		return "docker.io/" + imageRef
	}
	return imageRef
}

// ScratchSource provides an empty base, for images that carry everything in
// their own layers. Also the base of choice in tests.
type ScratchSource struct{}

func (ScratchSource) Info() string {
	return ScratchRef
}

func (ScratchSource) Fetch(ctx context.Context) (v1.Image, error) {
	return empty.Image, nil
}
