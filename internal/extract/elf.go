package extract

import (
	"debug/elf"
	"fmt"
	"io"
)

// readELF returns DT_SONAME as the declared name and DT_NEEDED as references.
// Static executables have neither and still count as modules.
func readELF(r io.ReaderAt) (moduleInfo, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return moduleInfo{}, fmt.Errorf("elf: %w", err)
	}
	defer f.Close()

	mod := moduleInfo{format: FormatELF}
	if sonames, err := f.DynString(elf.DT_SONAME); err == nil && len(sonames) > 0 {
		mod.name = sonames[0]
	}
	needed, err := f.ImportedLibraries()
	if err != nil {
		return moduleInfo{}, fmt.Errorf("elf needed libraries: %w", err)
	}
	mod.refs = needed
	return mod, nil
}
