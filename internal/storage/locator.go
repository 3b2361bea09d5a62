// Package storage maps job ids to file locations and publishes finished
// outputs. The scheduler treats every location as an opaque string.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

var (
	ErrInvalidID = errors.New("invalid job id")
	ErrLocked    = errors.New("work directory in use by another process")
	ErrTooLarge  = errors.New("upload exceeds size limit")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Locator resolves job files beneath a work directory:
//
//	<root>/uploads/<id>.src
//	<root>/outputs/<id>.mp4
type Locator struct {
	root    string
	uploads string
	outputs string
	lock    *flock.Flock
}

// NewLocator creates the directory layout under root.
func NewLocator(root string) (*Locator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	l := &Locator{
		root:    abs,
		uploads: filepath.Join(abs, "uploads"),
		outputs: filepath.Join(abs, "outputs"),
		lock:    flock.New(filepath.Join(abs, ".trim.lock")),
	}
	for _, dir := range []string{l.uploads, l.outputs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

// Lock claims the work directory for this process.
func (l *Locator) Lock() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire work dir lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, l.root)
	}
	return nil
}

// Unlock releases the work directory lock.
func (l *Locator) Unlock() error {
	return l.lock.Unlock()
}

// ValidateID rejects ids that could escape the work directory.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ResolveInputPath returns where the upload for id lives.
func (l *Locator) ResolveInputPath(id string) string {
	return filepath.Join(l.uploads, id+".src")
}

// ResolveOutputPath returns where the processed file for id is written.
func (l *Locator) ResolveOutputPath(id string) string {
	return filepath.Join(l.outputs, id+".mp4")
}

// PathExists reports whether path names an existing regular file.
func (l *Locator) PathExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// SaveUpload streams r into the input path for id, enforcing limit bytes.
// A partial file is removed on failure.
func (l *Locator) SaveUpload(id string, r io.Reader, limit int64) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	path := l.ResolveInputPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	if err == nil && n > limit {
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Remove deletes both files of id; missing files are ignored.
func (l *Locator) Remove(id string) error {
	var errs []error
	for _, path := range []string{l.ResolveInputPath(id), l.ResolveOutputPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
