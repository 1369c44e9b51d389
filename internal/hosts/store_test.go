package hosts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBackupPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	s := NewStore([]string{path}, 2)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	var made []string
	for i := 0; i < 4; i++ {
		b, err := s.Backup(path, "x\n")
		require.NoError(t, err)
		made = append(made, b)
	}

	backups, err := s.Backups(path)
	require.NoError(t, err)
	assert.Equal(t, made[2:], backups)
}

func TestStoreBackupSameSecond(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	s := NewStore([]string{path}, 0)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	a, err := s.Backup(path, "first\n")
	require.NoError(t, err)
	b, err := s.Backup(path, "second\n")
	require.NoError(t, err)

	assert.Equal(t, path+".clusterbanned.bak.1700000000", a)
	assert.Equal(t, path+".clusterbanned.bak.1700000001", b)
}

func TestStoreWriteKeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0600))

	s := NewStore([]string{path}, 0)
	require.NoError(t, s.Write(path, "y\n"))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestStoreCheckElevation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	e := NewStore([]string{path}, 0).CheckElevation()
	assert.True(t, e.Writable)
	assert.Equal(t, path, e.Path)

	missing := NewStore([]string{filepath.Join(dir, "nope")}, 0).CheckElevation()
	assert.False(t, missing.Writable)
	assert.Error(t, missing.Err)
}

func TestStorePathMatchesRead(t *testing.T) {
	dir := t.TempDir()
	notAFile := filepath.Join(dir, "etc-hosts-dir")
	require.NoError(t, os.Mkdir(notAFile, 0755))
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	s := NewStore([]string{filepath.Join(dir, "missing"), notAFile, path}, 0)
	got, _, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, path, s.Path())
	assert.Equal(t, path, s.CheckElevation().Path)
}
