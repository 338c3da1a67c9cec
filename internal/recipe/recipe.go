// Package recipe defines the declarative container build definition: base
// image, working directory, dependency manifest, files to copy, runtime user
// and startup command.
package recipe

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"bricklayer/pkg/fs"
)

// Recipe is a complete build definition. Every instruction applies exactly
// once, in a fixed order: base, workdir, dependencies, copied files, user,
// command.
type Recipe struct {
	// From is the base image reference, or "scratch".
	From string `toml:"from"`
	// Workdir is the absolute working directory recorded in the image.
	Workdir string `toml:"workdir"`
	// Manifest is an optional path to the dependency manifest, relative to
	// the build context.
	Manifest string `toml:"manifest"`
	// Copy lists files and directories copied into the image.
	Copy []CopyEntry `toml:"copy"`
	// User is the runtime identity. It is created by the build, never
	// assumed to exist in the base image.
	User UserSpec `toml:"user"`
	// Cmd is the default process of the image.
	Cmd []string `toml:"cmd"`
	// Env entries are applied over the base image environment.
	Env map[string]string `toml:"env"`
	// Labels are added to the image config.
	Labels map[string]string `toml:"labels"`
}

// CopyEntry copies one file or directory from the build context into the
// image.
type CopyEntry struct {
	Source string `toml:"source"`
	Dest   string `toml:"dest"`
	// Mode is an octal string ("0755"). Empty keeps the source mode for
	// files and 0644 for synthesized content.
	Mode string `toml:"mode"`
}

// FileMode parses the entry's octal mode string. Zero means "keep source
// mode".
func (e CopyEntry) FileMode() (int64, error) {
	if e.Mode == "" {
		return 0, nil
	}
	mode, err := strconv.ParseInt(e.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("copy %s: invalid mode %q", e.Source, e.Mode)
	}
	return mode, nil
}

// UserSpec declares the runtime identity baked into the image.
type UserSpec struct {
	Name string `toml:"name"`
	UID  int    `toml:"uid"`
	GID  int    `toml:"gid"`
	Home string `toml:"home"`
}

// Account converts the declared user into the account records written to the image.
// A zero GID falls back to the UID.
func (u UserSpec) Account() fs.Account {
	gid := u.GID
	if gid == 0 {
		gid = u.UID
	}
	return fs.Account{Name: u.Name, UID: u.UID, GID: gid, Home: u.Home}
}

// RuntimeUser is the "uid:gid" form recorded in the image config. Numeric so
// the kernel never needs the name database to start the process.
func (u UserSpec) RuntimeUser() string {
	account := u.Account()
	return strconv.Itoa(account.UID) + ":" + strconv.Itoa(account.GID)
}

// Load reads, decodes and validates a recipe file.
func Load(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	return r, nil
}

// Decode parses a TOML recipe. Unknown keys are rejected, and the decoded
// recipe is validated.
func Decode(r io.Reader) (*Recipe, error) {
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()

	recipe := &Recipe{}
	if err := decoder.Decode(recipe); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := recipe.Validate(); err != nil {
		return nil, err
	}

	return recipe, nil
}
