package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME is not used on windows")
	}
	home := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", home)
	defer os.Setenv("HOME", oldHome)

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		in, want string
	}{
		{"", ""},
		{"~/.tegraflash", filepath.Join(home, ".tegraflash")},
		{"~", home},
		{"/tmp/x/../y", "/tmp/y"},
		{"state", filepath.Join(cwd, "state")},
	} {
		got, err := NormalizePath(c.in)
		if err != nil {
			t.Errorf("%q: %s", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q: got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	StateDir, ProfileFile = dir, ""
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Errorf("%s was not created: %v", dir, err)
	}
	if got, want := ProfileFile, filepath.Join(dir, "defaults.ini"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
