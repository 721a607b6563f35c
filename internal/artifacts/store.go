// Package artifacts stores uploaded program binaries on the local filesystem as
// <root>/<program id>/program.elf with the compiler version alongside.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	ELFName             = "program.elf"
	CompilerVersionName = "compiler_version.txt"
)

var (
	ErrInvalidID = errors.New("invalid program id")
	ErrNotFound  = errors.New("artifact not found")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID rejects ids that are not safe to use as a directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Artifact is a stored program.
type Artifact struct {
	ID              string
	Path            string
	CompilerVersion string
	Size            int64
}

// Store is safe for concurrent use as long as callers do not write the same id from
// two goroutines at once; the loader serializes per id.
type Store struct {
	root string
}

// NewStore creates root if needed.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifacts: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Path returns where the ELF for id lives, whether or not it exists.
func (s *Store) Path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id, ELFName), nil
}

// Save writes the ELF and compiler version for id, replacing any previous upload. The
// ELF is written to a temporary file and renamed so readers never see a partial binary.
func (s *Store) Save(id string, elf []byte, compilerVersion string) (*Artifact, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create program directory: %w", err)
	}

	elfPath := filepath.Join(dir, ELFName)
	if err := writeAtomic(elfPath, elf); err != nil {
		return nil, fmt.Errorf("failed to write ELF file: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, CompilerVersionName), []byte(compilerVersion)); err != nil {
		return nil, fmt.Errorf("failed to write compiler version: %w", err)
	}

	return &Artifact{ID: id, Path: elfPath, CompilerVersion: compilerVersion, Size: int64(len(elf))}, nil
}

// Load reads back the stored artifact metadata for id.
func (s *Store) Load(id string) (*Artifact, error) {
	elfPath, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(elfPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	version, err := os.ReadFile(filepath.Join(filepath.Dir(elfPath), CompilerVersionName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return &Artifact{
		ID:              id,
		Path:            elfPath,
		CompilerVersion: strings.TrimSpace(string(version)),
		Size:            info.Size(),
	}, nil
}

// ReadELF returns the stored ELF bytes for id.
func (s *Store) ReadELF(id string) ([]byte, error) {
	elfPath, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(elfPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, err
}

// Exists reports whether an ELF is stored for id.
func (s *Store) Exists(id string) bool {
	_, err := s.Load(id)
	return err == nil
}

// Delete removes the files Save wrote for id, then the directory if nothing else is
// left in it. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	dir := filepath.Join(s.root, id)
	for _, name := range []string{ELFName, CompilerVersionName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) && !dirNotEmpty(dir) {
		return fmt.Errorf("failed to remove program directory: %w", err)
	}
	return nil
}

func dirNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
