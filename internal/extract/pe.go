package extract

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// readPE returns the declared name and the referenced modules of a PE image.
// Managed assemblies are described by their CLR metadata: the assembly's full
// name and its AssemblyRef full names. Native images use the export directory
// name and the DLLs of the import table.
func readPE(r io.ReaderAt) (moduleInfo, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return moduleInfo{}, fmt.Errorf("pe: %w", err)
	}
	defer f.Close()

	dirs := dataDirectories(f)
	if clr, ok := directory(dirs, pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR); ok {
		if mod, err := readCLR(f, clr); err == nil {
			return mod, nil
		}
		// Mixed-mode and damaged images still have a usable native view.
	}

	return moduleInfo{
		format: FormatPE,
		name:   peExportName(f, dirs),
		refs:   peImportedDLLs(f, dirs),
	}, nil
}

func dataDirectories(f *pe.File) []pe.DataDirectory {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		return oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	}
	return nil
}

func directory(dirs []pe.DataDirectory, i int) (pe.DataDirectory, bool) {
	if i >= len(dirs) || dirs[i].VirtualAddress == 0 {
		return pe.DataDirectory{}, false
	}
	return dirs[i], true
}

// exportDirSize is sizeof(IMAGE_EXPORT_DIRECTORY); its Name RVA sits at 12.
const exportDirSize = 40

func peExportName(f *pe.File, dirs []pe.DataDirectory) string {
	export, ok := directory(dirs, pe.IMAGE_DIRECTORY_ENTRY_EXPORT)
	if !ok || export.Size < exportDirSize {
		return ""
	}
	dir := readRVA(f, export.VirtualAddress, exportDirSize)
	if len(dir) < exportDirSize {
		return ""
	}
	return readCString(f, binary.LittleEndian.Uint32(dir[12:16]))
}

// importDescSize is sizeof(IMAGE_IMPORT_DESCRIPTOR); its Name RVA sits at 12.
const importDescSize = 20

// peImportedDLLs walks the import descriptors directly. debug/pe only reports
// DLLs through ImportedSymbols, which drops libraries imported purely by
// ordinal and stops at descriptors without an OriginalFirstThunk.
func peImportedDLLs(f *pe.File, dirs []pe.DataDirectory) []string {
	imports, ok := directory(dirs, pe.IMAGE_DIRECTORY_ENTRY_IMPORT)
	if !ok {
		return nil
	}
	// The directory size is unreliable in the wild; the table ends at the
	// all-zero descriptor or the end of its section.
	table := readRVA(f, imports.VirtualAddress, math.MaxInt32)
	var dlls []string
	for len(table) >= importDescSize {
		desc := table[:importDescSize]
		table = table[importDescSize:]
		nameRVA := binary.LittleEndian.Uint32(desc[12:16])
		if nameRVA == 0 {
			break
		}
		if name := readCString(f, nameRVA); name != "" {
			dlls = append(dlls, name)
		}
	}
	return dlls
}

// maxPEName bounds names read from the image.
const maxPEName = 512

// readCString returns the NUL-terminated string at rva, or "" when the
// terminator is not found within maxPEName bytes.
func readCString(f *pe.File, rva uint32) string {
	b := readRVA(f, rva, maxPEName)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return ""
}

// readRVA returns up to n bytes of the section data mapped at rva.
func readRVA(f *pe.File, rva uint32, n int) []byte {
	for _, s := range f.Sections {
		size := max(s.VirtualSize, s.Size)
		if rva < s.VirtualAddress || rva-s.VirtualAddress >= size {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil
		}
		off := int(rva - s.VirtualAddress)
		if off >= len(data) {
			return nil
		}
		return data[off : off+min(n, len(data)-off)]
	}
	return nil
}
