// Package permission stores the user's location permission grant on disk.
package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clocktrack/internal/tracker"
)

// FileSurface is a PermissionSurface backed by a small text file holding the
// granted level ("denied", "when_in_use" or "always"). The grant is changed
// with `clocktrack permission grant`; a background process cannot prompt, so
// Request only reports what has been granted.
type FileSurface struct {
	path   string
	logger tracker.Logger
}

func NewFileSurface(path string, logger tracker.Logger) *FileSurface {
	return &FileSurface{path: path, logger: logger}
}

// Level reads the current grant. A missing file means denied.
func (s *FileSurface) Level(ctx context.Context) (tracker.PermissionLevel, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tracker.PermissionDenied, nil
		}
		return tracker.PermissionDenied, fmt.Errorf("reading permission grant: %w", err)
	}
	return tracker.ParsePermissionLevel(strings.TrimSpace(string(data))), nil
}

// Request logs the request and returns the current grant.
func (s *FileSurface) Request(ctx context.Context, level tracker.PermissionLevel) (tracker.PermissionLevel, error) {
	current, err := s.Level(ctx)
	if err != nil {
		return current, err
	}
	if current < level {
		s.logger.Warn("location permission requested", "want", level.String(), "granted", current.String(),
			"hint", "run: clocktrack permission grant "+level.String())
	}
	return current, nil
}

// Grant records a new level.
func (s *FileSurface) Grant(level tracker.PermissionLevel) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating permission directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(level.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing permission grant: %w", err)
	}
	return nil
}

var _ tracker.PermissionSurface = (*FileSurface)(nil)
