package extract

import (
	"debug/buildinfo"
	"io"

	"golang.org/x/mod/module"
)

// readGoBuildInfo reads the build info embedded by the Go linker. The main
// module becomes the declared name and every dependency a reference, both in
// path@version form.
func readGoBuildInfo(r io.ReaderAt) (moduleInfo, bool) {
	bi, err := buildinfo.Read(r)
	if err != nil {
		return moduleInfo{}, false
	}

	mod := moduleInfo{}
	switch {
	case bi.Main.Path != "":
		mod.name = module.Version{Path: bi.Main.Path, Version: bi.Main.Version}.String()
	case bi.Path != "":
		mod.name = bi.Path
	}

	deps := make([]module.Version, 0, len(bi.Deps))
	for _, d := range bi.Deps {
		if d == nil || d.Path == "" {
			continue
		}
		deps = append(deps, module.Version{Path: d.Path, Version: d.Version})
	}
	module.Sort(deps)
	for _, d := range deps {
		mod.refs = append(mod.refs, d.String())
	}
	return mod, true
}
