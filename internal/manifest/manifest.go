// Package manifest parses dependency manifests and resolves them against a
// package index into layer content.
//
// A manifest is a plain-text file with one requirement per line:
//
//	# comment
//	libfoo==1.2.0
//	libbar
//
// Bare names resolve to the index's "latest" artifact. The same name pinned
// to two different versions is a conflict and fails the parse.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	ErrConflictingPins = errors.New("conflicting version pins")
	ErrMalformedLine   = errors.New("malformed requirement")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Requirement is a single declared dependency. Version is empty for an
// unpinned requirement.
type Requirement struct {
	Name    string
	Version string
}

func (r Requirement) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "==" + r.Version
}

// Load reads and parses a manifest file.
func Load(path string) ([]Requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	reqs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return reqs, nil
}

// Parse reads requirements line by line. Comments and blank lines are
// skipped. Duplicate entries are deduplicated; duplicates with different
// pins are rejected.
func Parse(r io.Reader) ([]Requirement, error) {
	var reqs []Requirement
	pinned := map[string]string{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		if prev, ok := pinned[req.Name]; ok {
			if prev != req.Version {
				return nil, fmt.Errorf("line %d: %s pinned to both %q and %q: %w",
					lineNo, req.Name, prev, req.Version, ErrConflictingPins)
			}
			continue
		}

		pinned[req.Name] = req.Version
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return reqs, nil
}

func parseLine(line string) (Requirement, error) {
	name, version, pinnedLine := strings.Cut(line, "==")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)

	if !namePattern.MatchString(name) {
		return Requirement{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	if pinnedLine && version == "" {
		return Requirement{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}

	return Requirement{Name: name, Version: version}, nil
}
