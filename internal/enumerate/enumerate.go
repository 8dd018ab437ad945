// Package enumerate finds candidate module files under a root directory.
package enumerate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// ErrDirectoryNotFound is returned when the scan root does not exist or is not
// a directory. No partial enumeration is returned alongside it.
var ErrDirectoryNotFound = errors.New("directory not found")

// DefaultInclude lists the file globs treated as binary modules.
var DefaultInclude = []string{"*.dll", "*.exe", "*.so", "*.so.*", "*.dylib"}

// Enumerator walks a directory tree and yields module file paths.
type Enumerator struct {
	Fs      afero.Fs
	Include []string // doublestar globs; a glob without '/' matches the base name
	Exclude []string
	Logger  *slog.Logger
}

// New returns an Enumerator over the OS filesystem with the default globs.
func New() *Enumerator {
	return &Enumerator{
		Fs:      afero.NewOsFs(),
		Include: DefaultInclude,
		Logger:  slog.Default(),
	}
}

// Enumerate returns every regular file under root, at any depth, that matches
// an include glob and no exclude glob. Paths are returned sorted.
func (e *Enumerator) Enumerate(root string) ([]string, error) {
	fsys := e.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	include := e.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	if err := validateGlobs(include); err != nil {
		return nil, err
	}
	if err := validateGlobs(e.Exclude); err != nil {
		return nil, err
	}

	info, err := fsys.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, root)
		}
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, root)
	}

	var paths []string
	err = afero.Walk(fsys, root, func(p string, fi fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			// An unreadable subdirectory only hides its own modules.
			logger.Debug("skipping unreadable entry", "path", p, "error", walkErr)
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			// Links to files count as the file; links to directories are
			// not descended into.
			target, err := fsys.Stat(p)
			if err != nil {
				logger.Debug("skipping dangling symlink", "path", p, "error", err)
				return nil
			}
			fi = target
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		rel = filepath.ToSlash(rel)
		if matchAny(include, rel) && !matchAny(e.Exclude, rel) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(paths)
	logger.Debug("enumerated modules", "root", root, "count", len(paths))
	return paths, nil
}

func matchAny(globs []string, rel string) bool {
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}
	for _, g := range globs {
		subject := rel
		if !strings.Contains(g, "/") {
			subject = base
		}
		// Case-insensitive: Windows module names are not case-sensitive.
		if ok, _ := doublestar.Match(strings.ToLower(g), strings.ToLower(subject)); ok {
			return true
		}
	}
	return false
}

func validateGlobs(globs []string) error {
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid glob %q: %w", g, doublestar.ErrBadPattern)
		}
	}
	return nil
}
