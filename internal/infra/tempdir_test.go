package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTempDir(t *testing.T) {
	t.Chdir(t.TempDir())

	tmp, err := TempDir("tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(tmp) {
		t.Errorf("TempDir() = %v, want absolute path", tmp)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("expected %v to exist: %v", tmp, err)
	}

	abs := filepath.Join(t.TempDir(), "testing")
	tmp, err = TempDir(abs)
	if err != nil || tmp != abs {
		t.Errorf("TempDir() = %v, %v, want %v", tmp, err, abs)
	}
}
