package hosts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T, content string) (*Reconciler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return NewReconciler(NewStore([]string{path}, 5)), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestReconcilerReplacesRegionBlock(t *testing.T) {
	r, path := newTestReconciler(t, "192.168.1.1 router.local\n"+
		"\n"+
		"# clusterbanned start region:eu\n"+
		"0.0.0.0 x.example.com\n"+
		"0.0.0.0 y.example.com\n"+
		"# clusterbanned end\n")

	out, err := r.Apply(context.Background(), Request{
		Region:    "eu",
		HasRegion: true,
		Domains:   []string{"y.example.com", "z.example.com"},
		Mode:      ModeSet,
	})
	require.NoError(t, err)

	assert.True(t, out.Changed)
	assert.Equal(t, 2, out.Written)
	assert.Equal(t, "Successfully blocked 2 domains (wrote to "+path+")", out.Message)
	assert.Equal(t, "192.168.1.1 router.local\n"+
		"\n"+
		"# clusterbanned start region:eu\n"+
		"0.0.0.0 y.example.com\n"+
		"0.0.0.0 z.example.com\n"+
		"# clusterbanned end\n", readFile(t, path))
}

func TestReconcilerSetIsIdempotent(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n::1 localhost\n")
	req := Request{Region: "eu", HasRegion: true, Domains: []string{"b.com", "a.com"}, Mode: ModeSet}

	first, err := r.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	after := readFile(t, path)

	second, err := r.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, after, readFile(t, path))
}

func TestReconcilerPreservesUnmanagedLines(t *testing.T) {
	original := "# static table\n" +
		"127.0.0.1 localhost\n" +
		"\n" +
		Encode("eu", true, []string{"old.com"}) + "\n" +
		"\n" +
		"10.0.0.5 nas.lan  # keep spacing\n"
	r, path := newTestReconciler(t, original)

	_, err := r.Apply(context.Background(), Request{Region: "eu", HasRegion: true, Domains: []string{"new.com"}, Mode: ModeSet})
	require.NoError(t, err)
	_, err = r.Apply(context.Background(), Request{Region: "asia", HasRegion: true, Domains: []string{"x.com"}, Mode: ModeSet})
	require.NoError(t, err)

	assert.Equal(t, unmanagedLines(original), unmanagedLines(readFile(t, path)))
}

func unmanagedLines(text string) []string {
	var out []string
	doc := ParseDocument(text)
	last := 0
	for _, b := range doc.Blocks() {
		out = append(out, nonBlank(text[last:b.Start])...)
		last = b.End
	}
	return append(out, nonBlank(text[last:])...)
}

func nonBlank(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestReconcilerRemove(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n")
	ctx := context.Background()

	_, err := r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"a.com", "b.com"}, Mode: ModeSet})
	require.NoError(t, err)

	out, err := r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"nothere.com"}, Mode: ModeRemove})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "No matching entries to remove", out.Message)

	out, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"A.COM"}, Mode: ModeRemove})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 1, out.Removed)
	assert.Equal(t, 1, out.Left)
	assert.Equal(t, "Removed 1 entries, left 1 entries (wrote to "+path+")", out.Message)

	blocked, err := r.BlockedDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.com"}, blocked)

	rep := NewChecker(r.Store()).Check(ctx, Selection{"eu": {"a.com": true, "b.com": false}})
	assert.True(t, rep.Available)
	assert.False(t, rep.Mismatch, rep.Message)

	out, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"b.com"}, Mode: ModeRemove})
	require.NoError(t, err)
	assert.Equal(t, "Removed clusterbanned block (wrote to "+path+")", out.Message)
	assert.Equal(t, "127.0.0.1 localhost\n\n", readFile(t, path))

	out, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"b.com"}, Mode: ModeRemove})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "No cluster entries to update", out.Message)
}

func TestReconcilerRegionIsolation(t *testing.T) {
	r, path := newTestReconciler(t, "")
	ctx := context.Background()

	for _, req := range []Request{
		{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet},
		{Region: "asia", HasRegion: true, Domains: []string{"b.com"}, Mode: ModeSet},
		{Region: "eu", HasRegion: true, Domains: []string{"c.com"}, Mode: ModeSet},
		{Region: "eu", HasRegion: true, Domains: []string{"c.com"}, Mode: ModeRemove},
	} {
		_, err := r.Apply(ctx, req)
		require.NoError(t, err)
	}

	doc := ParseDocument(readFile(t, path))
	_, ok := doc.Find("eu", true)
	assert.False(t, ok)
	asia, ok := doc.Find("asia", true)
	require.True(t, ok)
	assert.Equal(t, []string{"b.com"}, asia.Domains)
}

func TestReconcilerEmptySet(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n")
	ctx := context.Background()

	out, err := r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{}, Mode: ModeSet})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "No cluster entries to update", out.Message)

	_, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet})
	require.NoError(t, err)

	out, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{}, Mode: ModeSet})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, "Removed clusterbanned block (wrote to "+path+")", out.Message)
}

func TestReconcilerInvalidRequest(t *testing.T) {
	r, _ := newTestReconciler(t, "")
	ctx := context.Background()

	_, err := r.Apply(ctx, Request{Region: "eu", HasRegion: true, Mode: ModeSet})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: Mode(7)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"bad domain"}, Mode: ModeSet})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	for _, region := range []string{"", "e u", "eu\n0.0.0.0 evil.com", "eu\t", "eu\x00"} {
		_, err = r.Apply(ctx, Request{Region: region, HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet})
		assert.ErrorIs(t, err, ErrInvalidRequest, "region %q", region)
	}
}

func TestReconcilerRejectedRegionLeavesFileAlone(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n")
	for i := 0; i < 3; i++ {
		_, err := r.Apply(context.Background(), Request{Region: "e u", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet})
		require.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Equal(t, "127.0.0.1 localhost\n", readFile(t, path))
}

func TestReconcilerCRLF(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\r\n\r\n"+
		"# clusterbanned start region:eu\r\n0.0.0.0 a.com\r\n# clusterbanned end\r\n")
	ctx := context.Background()
	want := "127.0.0.1 localhost\r\n\r\n" +
		"# clusterbanned start region:eu\r\n0.0.0.0 b.com\r\n# clusterbanned end\r\n"

	out, err := r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"b.com"}, Mode: ModeSet})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, want, readFile(t, path))

	out, err = r.Apply(ctx, Request{Region: "eu", HasRegion: true, Domains: []string{"b.com"}, Mode: ModeSet})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, want, readFile(t, path))

	rep := NewChecker(r.Store()).Check(ctx, Selection{"eu": {"b.com": false}})
	assert.False(t, rep.Mismatch, rep.Message)
}

func TestReconcilerMissingFile(t *testing.T) {
	r := NewReconciler(NewStore([]string{filepath.Join(t.TempDir(), "missing")}, 0))

	_, err := r.Apply(context.Background(), Request{Domains: []string{"a.com"}, Mode: ModeSet})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcilerBackup(t *testing.T) {
	original := "127.0.0.1 localhost\n"
	r, path := newTestReconciler(t, original)

	out, err := r.Apply(context.Background(), Request{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet, Backup: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.Backup)
	assert.True(t, strings.HasPrefix(out.Backup, path+".clusterbanned.bak."))
	assert.Equal(t, original, readFile(t, out.Backup))
}

func TestReconcilerBackupFailureAbortsWrite(t *testing.T) {
	// The backup name exceeds the file name limit while the hosts file
	// itself is still writable.
	original := "127.0.0.1 localhost\n"
	path := filepath.Join(t.TempDir(), strings.Repeat("h", 240))
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))
	r := NewReconciler(NewStore([]string{path}, 5))

	_, err := r.Apply(context.Background(), Request{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet, Backup: true})
	assert.ErrorIs(t, err, ErrBackupFailed)
	assert.Equal(t, original, readFile(t, path))
}

func TestReconcilerPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n")
	require.NoError(t, os.Chmod(path, 0444))

	_, err := r.Apply(context.Background(), Request{Region: "eu", HasRegion: true, Domains: []string{"a.com"}, Mode: ModeSet})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "failed to write hosts file ("+path+")")
	assert.Contains(t, err.Error(), "Try running with elevated privileges")
}

func TestReconcilerClear(t *testing.T) {
	r, path := newTestReconciler(t, "127.0.0.1 localhost\n")
	ctx := context.Background()

	out, err := r.Clear(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "No clusterbanned blocks found in hosts", out.Message)

	for _, region := range []string{"eu", "na", "asia"} {
		_, err := r.Apply(ctx, Request{Region: region, HasRegion: true, Domains: []string{region + ".example.com"}, Mode: ModeSet})
		require.NoError(t, err)
	}

	out, err = r.Clear(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Removed)
	assert.False(t, out.Halted)
	assert.Equal(t, "Successfully removed 3 block(s) from hosts", out.Message)
	assert.Equal(t, "127.0.0.1 localhost\n", readFile(t, path))
}
