package enumerate

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

func memTree(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, f := range files {
		if err := afero.WriteFile(fsys, f, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	return fsys
}

func TestEnumerate_DefaultGlobs(t *testing.T) {
	fsys := memTree(t,
		"/r/A.dll",
		"/r/Lib.DLL",
		"/r/readme.txt",
		"/r/bin/tool.exe",
		"/r/lib/deep/libz.so.1",
		"/r/lib/libc.so",
		"/r/Frameworks/libfoo.dylib",
		"/r/notes.dll.txt",
	)
	e := &Enumerator{Fs: fsys}

	got, err := e.Enumerate("/r")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	want := []string{
		"/r/A.dll",
		"/r/Frameworks/libfoo.dylib",
		"/r/Lib.DLL",
		"/r/bin/tool.exe",
		"/r/lib/deep/libz.so.1",
		"/r/lib/libc.so",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEnumerate_IncludeExclude(t *testing.T) {
	fsys := memTree(t,
		"/r/A.dll",
		"/r/obj/Debug/A.dll",
		"/r/test/B.dll",
		"/r/C.exe",
	)
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    int
	}{
		{"dll only", []string{"*.dll"}, nil, 3},
		{"exclude obj", []string{"*.dll"}, []string{"**/obj/**"}, 2},
		{"path glob", []string{"test/*.dll"}, nil, 1},
		{"exclude by name", nil, []string{"c.exe"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Enumerator{Fs: fsys, Include: tt.include, Exclude: tt.exclude}
			got, err := e.Enumerate("/r")
			if err != nil {
				t.Fatalf("Enumerate: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d paths %v, want %d", len(got), got, tt.want)
			}
		})
	}
}

func TestEnumerate_EmptyDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/empty", 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := (&Enumerator{Fs: fsys}).Enumerate("/empty")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no paths, got %v", got)
	}
}

func TestEnumerate_MissingRoot(t *testing.T) {
	e := &Enumerator{Fs: afero.NewMemMapFs()}
	_, err := e.Enumerate("/does/not/exist")
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("expected ErrDirectoryNotFound, got %v", err)
	}
}

func TestEnumerate_RootIsFile(t *testing.T) {
	e := &Enumerator{Fs: memTree(t, "/r/A.dll")}
	_, err := e.Enumerate("/r/A.dll")
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("expected ErrDirectoryNotFound for a file root, got %v", err)
	}
}

func TestEnumerate_InvalidGlob(t *testing.T) {
	e := &Enumerator{Fs: memTree(t, "/r/A.dll"), Include: []string{"[a-"}}
	_, err := e.Enumerate("/r")
	if !errors.Is(err, doublestar.ErrBadPattern) {
		t.Errorf("expected ErrBadPattern, got %v", err)
	}
}

func TestEnumerate_OSFilesystem(t *testing.T) {
	dir := t.TempDir()
	fsys := afero.NewOsFs()
	if err := afero.WriteFile(fsys, dir+"/x.so", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := New().Enumerate(dir)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 path, got %v", got)
	}
}

func TestEnumerate_Symlinks(t *testing.T) {
	dir := t.TempDir()
	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(filepath.Join(dir, "real"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, filepath.Join(dir, "real", "lib.so"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	links := map[string]string{
		"link.so":     filepath.Join(dir, "real", "lib.so"),
		"dangling.so": filepath.Join(dir, "missing.so"),
		"linkdir":     filepath.Join(dir, "real"),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	got, err := New().Enumerate(dir)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	want := []string{filepath.Join(dir, "link.so"), filepath.Join(dir, "real", "lib.so")}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
