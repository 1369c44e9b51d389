package hosts

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("hosts file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnavailable      = errors.New("hosts file unavailable")
	ErrBackupFailed     = errors.New("backup failed")
)

// DefaultPaths are tried in order; the first readable one wins.
var DefaultPaths = []string{
	`C:\Windows\System32\drivers\etc\hosts`,
	"/etc/hosts",
}

const backupInfix = ".clusterbanned.bak."

type Store struct {
	paths       []string
	backupCount int
	now         func() time.Time
}

// NewStore returns a store probing paths (DefaultPaths when empty).
// backupCount bounds how many snapshots are kept; 0 keeps all of them.
func NewStore(paths []string, backupCount int) *Store {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Store{
		paths:       paths,
		backupCount: backupCount,
		now:         time.Now,
	}
}

// Path returns the candidate Read would use, or the last candidate when
// none is readable, so error messages always name a concrete file.
func (s *Store) Path() string {
	if p, _, err := s.Read(); err == nil {
		return p
	}
	return s.paths[len(s.paths)-1]
}

// Read returns the content of the first readable candidate.
func (s *Store) Read() (string, string, error) {
	var lastErr error
	for _, p := range s.paths {
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		return p, string(data), nil
	}
	return "", "", fmt.Errorf("%w: %v", ErrNotFound, lastErr)
}

// Write replaces the file in place, keeping its permission bits.
func (s *Store) Write(path, text string) error {
	mode := fs.FileMode(0644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(text), mode); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: failed to write hosts file (%s): %v. Try running with elevated privileges", ErrPermissionDenied, path, err)
		}
		return fmt.Errorf("failed to write hosts file (%s): %w. Try running with elevated privileges", path, err)
	}
	log.Printf("hosts: wrote %d bytes to %s", len(text), path)
	return nil
}

// Backup snapshots original next to path and prunes old snapshots.
func (s *Store) Backup(path, original string) (string, error) {
	ts := s.now().Unix()
	var backupPath string
	for {
		backupPath = path + backupInfix + strconv.FormatInt(ts, 10)
		f, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			ts++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
		_, werr := f.WriteString(original)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(backupPath)
			return "", fmt.Errorf("%w: %v", ErrBackupFailed, errors.Join(werr, cerr))
		}
		break
	}
	log.Printf("hosts: backup written to %s", backupPath)

	if err := s.prune(path); err != nil {
		log.Printf("hosts: backup pruning failed: %v", err)
	}
	return backupPath, nil
}

// Backups lists existing snapshots of path, oldest first.
func (s *Store) Backups(path string) ([]string, error) {
	matches, err := filepath.Glob(path + backupInfix + "*")
	if err != nil {
		return nil, err
	}
	type snap struct {
		path string
		ts   int64
	}
	var snaps []snap
	for _, m := range matches {
		ts, err := strconv.ParseInt(strings.TrimPrefix(m, path+backupInfix), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{m, ts})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ts < snaps[j].ts })

	out := make([]string, len(snaps))
	for i, sn := range snaps {
		out[i] = sn.path
	}
	return out, nil
}

func (s *Store) prune(path string) error {
	if s.backupCount <= 0 {
		return nil
	}
	backups, err := s.Backups(path)
	if err != nil {
		return err
	}
	var errs []error
	for len(backups) > s.backupCount {
		if err := os.Remove(backups[0]); err != nil {
			errs = append(errs, err)
		}
		backups = backups[1:]
	}
	return errors.Join(errs...)
}

// Elevation reports whether the process can write the hosts file.
type Elevation struct {
	Path     string
	Writable bool
	Err      error
}

// CheckElevation opens the hosts file for appending without writing to it.
func (s *Store) CheckElevation() Elevation {
	path := s.Path()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return Elevation{Path: path, Err: err}
	}
	f.Close()
	return Elevation{Path: path, Writable: true}
}
