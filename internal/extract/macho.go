package extract

import (
	"bytes"
	"debug/macho"
	"fmt"
	"io"
)

// lcIDDylib is LC_ID_DYLIB, which debug/macho leaves as raw load bytes.
const lcIDDylib = 0xd

// readMachO returns the LC_ID_DYLIB install name as the declared name and the
// LC_LOAD_DYLIB entries as references. For universal binaries the
// architectures are merged.
func readMachO(r io.ReaderAt, fat bool) (moduleInfo, error) {
	mod := moduleInfo{format: FormatMachO}
	if !fat {
		f, err := macho.NewFile(r)
		if err != nil {
			return moduleInfo{}, fmt.Errorf("macho: %w", err)
		}
		defer f.Close()
		return mod, collectMachO(f, &mod)
	}

	ff, err := macho.NewFatFile(r)
	if err != nil {
		return moduleInfo{}, fmt.Errorf("macho fat: %w", err)
	}
	defer ff.Close()
	for _, arch := range ff.Arches {
		if err := collectMachO(arch.File, &mod); err != nil {
			return moduleInfo{}, err
		}
	}
	return mod, nil
}

func collectMachO(f *macho.File, mod *moduleInfo) error {
	libs, err := f.ImportedLibraries()
	if err != nil {
		return fmt.Errorf("macho dylibs: %w", err)
	}
	mod.refs = append(mod.refs, libs...)
	if mod.name == "" {
		mod.name = machoInstallName(f)
	}
	return nil
}

func machoInstallName(f *macho.File) string {
	for _, l := range f.Loads {
		raw := l.Raw()
		// dylib_command: cmd, cmdsize, name offset, timestamp, versions.
		if len(raw) < 24 || f.ByteOrder.Uint32(raw[0:4]) != lcIDDylib {
			continue
		}
		off := f.ByteOrder.Uint32(raw[8:12])
		if int(off) >= len(raw) {
			return ""
		}
		name := raw[off:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return string(name)
	}
	return ""
}
