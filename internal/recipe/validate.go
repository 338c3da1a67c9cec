package recipe

import (
	"errors"
	"fmt"
	"path"
	"regexp"

	"github.com/google/go-containerregistry/pkg/name"
)

var (
	ErrMissingBase     = errors.New("recipe declares no base image")
	ErrRelativeWorkdir = errors.New("workdir must be an absolute path")
	ErrMissingCmd      = errors.New("recipe declares no startup command")
	ErrImplicitUser    = errors.New("runtime user must be declared with name and uid")
	ErrRootUser        = errors.New("runtime user must not be root")
	ErrBadCopyEntry    = errors.New("copy entry needs source and dest")
)

var userNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

const scratchRef = "scratch"

// Validate enforces the build definition contract before any build step
// runs. Everything here is static; no network or filesystem access.
func (r *Recipe) Validate() error {
	if r.From == "" {
		return ErrMissingBase
	}
	if r.From != scratchRef {
		if _, err := name.ParseReference(r.From); err != nil {
			return fmt.Errorf("base image reference %q: %w", r.From, err)
		}
	}

	if r.Workdir == "" || !path.IsAbs(r.Workdir) {
		return fmt.Errorf("%w: %q", ErrRelativeWorkdir, r.Workdir)
	}

	if len(r.Cmd) == 0 {
		return ErrMissingCmd
	}

	if err := r.validateUser(); err != nil {
		return err
	}

	for i, entry := range r.Copy {
		if entry.Source == "" || entry.Dest == "" {
			return fmt.Errorf("%w: entry %d", ErrBadCopyEntry, i)
		}
		if _, err := entry.FileMode(); err != nil {
			return err
		}
	}

	return nil
}

// validateUser requires the runtime account to be declared in full. The
// build creates the account itself, so a name alone is not enough, and root
// is rejected outright.
func (r *Recipe) validateUser() error {
	u := r.User
	if u.Name == "" {
		return ErrImplicitUser
	}
	if !userNamePattern.MatchString(u.Name) {
		return fmt.Errorf("%w: invalid name %q", ErrImplicitUser, u.Name)
	}
	if u.Name == "root" {
		return ErrRootUser
	}
	if u.UID == 0 {
		return ErrImplicitUser
	}
	if u.UID < 0 || u.GID < 0 {
		return fmt.Errorf("%w: negative uid/gid", ErrImplicitUser)
	}
	if u.Home != "" && !path.IsAbs(u.Home) {
		return fmt.Errorf("%w: home %q is not absolute", ErrImplicitUser, u.Home)
	}
	return nil
}
