package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/jszach/conductor/internal/errors"
)

// -----------------------------------------------------------------------------
// FileStore Tests
// -----------------------------------------------------------------------------

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return s, dir
}

func TestFileStore_GetCreatesDefault(t *testing.T) {
	s, dir := newFileStore(t)

	p, err := s.Get("alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.UserID != "alice" || !p.Enabled || p.Mode != ModeAuto {
		t.Errorf("Get() = %+v, want default policy for alice", p)
	}

	// First access persists the default to disk.
	if _, err := os.Stat(filepath.Join(dir, "alice.json")); err != nil {
		t.Errorf("policy file not written: %v", err)
	}
}

func TestFileStore_UpdateSurvivesReopen(t *testing.T) {
	s, dir := newFileStore(t)

	enabled := false
	mode := ModeDocker
	if _, err := s.Update("bob", Update{
		Enabled:    &enabled,
		Mode:       &mode,
		Categories: map[Category]Setting{CategoryExecuteShell: SettingAllowed},
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore(reopen) error = %v", err)
	}
	p, err := reopened.Get("bob")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if p.Enabled {
		t.Error("Enabled = true, want false after persisted update")
	}
	if p.Mode != ModeDocker {
		t.Errorf("Mode = %v, want docker", p.Mode)
	}
	if p.Categories[CategoryExecuteShell] != SettingAllowed {
		t.Errorf("shell setting = %v, want allowed", p.Categories[CategoryExecuteShell])
	}
}

func TestFileStore_UpdateValidation(t *testing.T) {
	s, _ := newFileStore(t)

	if _, err := s.Update("carol", Update{}); !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Update(empty) error = %v, want ErrInvalidInput", err)
	}

	bad := Mode("mainframe")
	if _, err := s.Update("carol", Update{Mode: &bad}); !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Update(bad mode) error = %v, want ErrInvalidInput", err)
	}

	// Failed updates must not leave a partial policy behind.
	p, err := s.Get("carol")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Mode != ModeAuto {
		t.Errorf("Mode = %v, want untouched default", p.Mode)
	}
}

func TestFileStore_Reset(t *testing.T) {
	s, _ := newFileStore(t)

	enabled := false
	if _, err := s.Update("dave", Update{Enabled: &enabled}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	p, err := s.Reset("dave")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !p.Enabled {
		t.Error("Enabled = false after reset, want default true")
	}

	p, err = s.Get("dave")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !p.Enabled {
		t.Error("persisted policy not reset")
	}
}

func TestFileStore_EmptyUserID(t *testing.T) {
	s, _ := newFileStore(t)

	if _, err := s.Get(""); !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Get(\"\") error = %v, want ErrInvalidInput", err)
	}
	if _, err := s.Update("", Update{}); !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Update(\"\") error = %v, want ErrInvalidInput", err)
	}
	if _, err := s.Reset(""); !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Reset(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestFileStore_PathSanitization(t *testing.T) {
	s, dir := newFileStore(t)

	if _, err := s.Get("team/alice"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "team_alice.json")); err != nil {
		t.Errorf("sanitized policy file not written: %v", err)
	}
}
