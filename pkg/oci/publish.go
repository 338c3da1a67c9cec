package oci

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
)

// ImageDigest returns the manifest digest of the assembled image.
func ImageDigest(img v1.Image) (digest.Digest, error) {
	dgst, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("compute image digest: %w", err)
	}
	return digest.Digest(dgst.String()), nil
}

// SaveTar writes the image to a docker-loadable tarball at dst, tagged with
// every given tag.
func SaveTar(dst string, tags []string, img v1.Image) error {
	refs := map[string]v1.Image{}
	for _, tag := range tags {
		refs[tag] = img
	}

	if err := crane.MultiSave(refs, dst); err != nil {
		return fmt.Errorf("save image to %s: %w", dst, err)
	}

	return nil
}

// Push uploads the image to every given tag reference.
func Push(ctx context.Context, tags []string, img v1.Image, opts ...crane.Option) error {
	opts = append(opts, crane.WithContext(ctx))
	for _, tag := range tags {
		if err := crane.Push(img, tag, opts...); err != nil {
			return fmt.Errorf("push %s: %w", tag, err)
		}
	}

	return nil
}
