package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Failure is one path that could not be removed.
type Failure struct {
	Path string
	Err  error
}

// Error aggregates every failure of a Remove call.
type Error struct {
	Root     string
	Failures []Failure
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to delete %s (%d paths)", e.Root, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&sb, "\n  %s: %v", f.Path, f.Err)
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Result counts what Remove deleted.
type Result struct {
	Files int
	Dirs  int
	Bytes int64
}

// Remove deletes root and everything below it. Files go first, then
// directories deepest-first. Every failure is recorded and the walk goes on.
// A missing root is not an error.
func Remove(root string) (Result, error) {
	var res Result
	if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}

	var failures []Failure
	var dirs []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable directory was already queued on its first visit.
			failures = append(failures, Failure{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			failures = append(failures, Failure{Path: path, Err: err})
			return nil
		}
		res.Files++
		res.Bytes += size
		return nil
	})
	if walkErr != nil {
		failures = append(failures, Failure{Path: root, Err: walkErr})
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			failures = append(failures, Failure{Path: dirs[i], Err: err})
			continue
		}
		res.Dirs++
	}

	if _, err := os.Lstat(root); err == nil && len(failures) == 0 {
		failures = append(failures, Failure{Path: root, Err: errors.New("still exists after delete")})
	}
	if len(failures) > 0 {
		return res, &Error{Root: root, Failures: failures}
	}
	return res, nil
}

// Sweeper collects paths that could not be removed and retries them when
// Sweep is called, typically deferred at the end of a run.
type Sweeper struct {
	mu    sync.Mutex
	paths []string
}

// Defer records path for a later sweep. Duplicate paths are kept once.
func (s *Sweeper) Defer(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		if p == path {
			return
		}
	}
	s.paths = append(s.paths, path)
}

// Pending returns the recorded paths.
func (s *Sweeper) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Sweep removes every recorded path and forgets the ones that are gone.
// Failures are joined into the returned error.
func (s *Sweeper) Sweep() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	var keep []string
	for _, p := range paths {
		if _, err := Remove(p); err != nil {
			errs = append(errs, err)
			keep = append(keep, p)
		}
	}
	if len(keep) > 0 {
		s.mu.Lock()
		s.paths = append(keep, s.paths...)
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}
