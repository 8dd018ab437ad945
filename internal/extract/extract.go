// Package extract reads the self-declared identity and the referenced module
// names out of a binary module file.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// Format identifies the binary container a module was read from.
type Format string

const (
	FormatELF   Format = "elf"
	FormatPE    Format = "pe"
	FormatMachO Format = "macho"
)

// Result is what a successful extraction yields for one module.
type Result struct {
	Identity   string   // "<name> (<path>)", unique per module file
	Name       string   // declared name, or the file name when none is declared
	Path       string
	Format     Format
	GoModule   bool     // Name and part of References come from Go build info
	References []string // declaration order, duplicates removed
}

// Extractor opens one module file. A false result means the file is not a
// readable module; it is never reported as an error.
type Extractor interface {
	Extract(path string) (Result, bool)
}

// Binary extracts references from ELF, PE and Mach-O files, plus Go module
// dependencies when the file carries Go build info.
type Binary struct {
	Fs     afero.Fs
	Logger *slog.Logger

	// SkipGoBuildInfo disables the Go build info reader.
	SkipGoBuildInfo bool
}

// NewBinary returns a Binary extractor reading from the OS filesystem.
func NewBinary() *Binary {
	return &Binary{Fs: afero.NewOsFs(), Logger: slog.Default()}
}

// readerAtFile is what the debug/* parsers need from an open file.
type readerAtFile interface {
	io.ReaderAt
	io.Closer
}

// Extract implements Extractor.
func (b *Binary) Extract(path string) (res Result, ok bool) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		// The debug/* parsers are not hardened against every malformed input.
		if r := recover(); r != nil {
			logger.Debug("module parser panicked", "path", path, "panic", r)
			res, ok = Result{}, false
		}
	}()

	fsys := b.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	f, err := fsys.Open(path)
	if err != nil {
		logger.Debug("cannot open module", "path", path, "error", err)
		return Result{}, false
	}
	defer f.Close()

	res, err = b.read(f, path)
	if err != nil {
		logger.Debug("not a readable module", "path", path, "error", err)
		return Result{}, false
	}
	return res, true
}

func (b *Binary) read(r readerAtFile, path string) (Result, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return Result{}, fmt.Errorf("reading magic: %w", err)
	}

	var (
		mod moduleInfo
		err error
	)
	switch format := detect(magic); format {
	case FormatELF:
		mod, err = readELF(r)
	case FormatPE:
		mod, err = readPE(r)
	case FormatMachO:
		mod, err = readMachO(r, isFat(magic))
	default:
		return Result{}, fmt.Errorf("unrecognized format (magic % x)", magic)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Name:   mod.name,
		Path:   path,
		Format: mod.format,
	}
	refs := newOrderedSet()
	refs.addAll(mod.refs)

	if !b.SkipGoBuildInfo {
		if gm, ok := readGoBuildInfo(r); ok {
			res.GoModule = true
			if gm.name != "" {
				res.Name = gm.name
			}
			refs.addAll(gm.refs)
		}
	}

	if res.Name == "" {
		res.Name = filepath.Base(path)
	}
	res.Identity = Identity(res.Name, path)
	res.References = refs.items
	return res, nil
}

// Identity combines a declared module name with the path it was loaded from so
// that same-named modules in different directories stay distinct.
func Identity(name, path string) string {
	return fmt.Sprintf("%s (%s)", name, path)
}

// moduleInfo is the container-specific part of an extraction.
type moduleInfo struct {
	format Format
	name   string
	refs   []string
}

var (
	magicELF       = []byte{0x7f, 'E', 'L', 'F'}
	magicMachO32   = []byte{0xfe, 0xed, 0xfa, 0xce}
	magicMachO64   = []byte{0xfe, 0xed, 0xfa, 0xcf}
	magicMachOLE   = []byte{0xce, 0xfa, 0xed, 0xfe}
	magicMachO64LE = []byte{0xcf, 0xfa, 0xed, 0xfe}
	magicFat       = []byte{0xca, 0xfe, 0xba, 0xbe}
)

func detect(magic [4]byte) Format {
	m := magic[:]
	switch {
	case bytes.Equal(m, magicELF):
		return FormatELF
	case m[0] == 'M' && m[1] == 'Z':
		return FormatPE
	case bytes.Equal(m, magicMachO32), bytes.Equal(m, magicMachO64),
		bytes.Equal(m, magicMachOLE), bytes.Equal(m, magicMachO64LE),
		bytes.Equal(m, magicFat):
		return FormatMachO
	}
	return ""
}

func isFat(magic [4]byte) bool {
	return bytes.Equal(magic[:], magicFat)
}

// orderedSet keeps the first occurrence of each name.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) addAll(names []string) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := s.seen[n]; ok {
			continue
		}
		s.seen[n] = struct{}{}
		s.items = append(s.items, n)
	}
}
