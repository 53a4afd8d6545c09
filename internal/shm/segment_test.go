//go:build unix

package shm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openT(t *testing.T, cfg Config) *Segment {
	t.Helper()
	s, err := Open(cfg)
	require.NoError(t, err)
	return s
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestOpen_CreateThenAttach(t *testing.T) {
	dir := t.TempDir()
	a := openT(t, Config{Name: "/x", Size: 4096, Dir: dir, Cleanup: CleanupNever})
	defer a.Close()

	assert.True(t, a.Created())
	assert.Equal(t, filepath.Join(dir, "x"), a.Path())
	assert.Len(t, a.Region(), 4096)
	require.NoError(t, a.Publish())

	a.Region()[0] = 99

	b := openT(t, Config{Name: "x", Size: 1, Dir: dir, Cleanup: CleanupNever})
	defer b.Close()

	assert.False(t, b.Created())
	assert.Equal(t, 4096, b.Size())
	assert.Equal(t, 2, b.Usage())
	assert.Equal(t, byte(99), b.Region()[0])
	assert.NotEqual(t, a.Addr(), b.Addr())
}

func TestOpen_NotReady(t *testing.T) {
	dir := t.TempDir()
	a := openT(t, Config{Name: "pending", Size: 4096, Dir: dir})
	defer a.Close()

	_, err := Open(Config{Name: "pending", Dir: dir, ReadyTimeout: 10 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestOpen_InvalidName(t *testing.T) {
	for _, name := range []string{"", "/", "a/b", ".."} {
		_, err := Open(Config{Name: name, Size: 4096, Dir: t.TempDir()})
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestClose_CleanupPolicies(t *testing.T) {
	tests := []struct {
		policy        Cleanup
		afterAttacher bool // name still present after the attacher closes
		afterCreator  bool // name still present after the creator closes
	}{
		{CleanupNever, true, true},
		{CleanupAlways, false, false},
		{CleanupOnOwnerExit, true, false},
		{CleanupIfLast, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{Name: "seg", Size: 4096, Dir: dir, Cleanup: tt.policy}

			creator := openT(t, cfg)
			require.NoError(t, creator.Publish())
			attacher := openT(t, cfg)
			path := creator.Path()

			require.NoError(t, attacher.Close())
			assert.Equal(t, tt.afterAttacher, exists(path))

			require.NoError(t, creator.Close())
			assert.Equal(t, tt.afterCreator, exists(path))
			require.NoError(t, creator.Close())
		})
	}
}

func TestClose_IfLastWaitsForLastHandle(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Name: "seg", Size: 4096, Dir: dir, Cleanup: CleanupIfLast}

	creator := openT(t, cfg)
	require.NoError(t, creator.Publish())
	attacher := openT(t, cfg)

	require.NoError(t, creator.Close())
	assert.True(t, exists(attacher.Path()))
	require.NoError(t, attacher.Close())
	assert.False(t, exists(attacher.Path()))
}

func TestClose_UnpublishedIsRemoved(t *testing.T) {
	dir := t.TempDir()
	s := openT(t, Config{Name: "seg", Size: 4096, Dir: dir, Cleanup: CleanupNever})
	require.NoError(t, s.Close())
	assert.False(t, exists(s.Path()))
}

func TestReinit_InvalidatesAndReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Name: "seg", Size: 4096, Dir: dir, Cleanup: CleanupNever}

	old := openT(t, cfg)
	require.NoError(t, old.Publish())
	old.Region()[0] = 1

	cfg.Reinit = true
	fresh := openT(t, cfg)
	defer fresh.Close()
	assert.True(t, fresh.Created())
	assert.True(t, old.Invalidated())
	assert.Equal(t, byte(0), fresh.Region()[0])
	fresh.Region()[0] = 2
	require.NoError(t, fresh.Publish())

	reopened, err := old.Reopen()
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, byte(2), reopened.Region()[0])

	// Closing the invalidated handle must not unlink the successor.
	require.NoError(t, old.Close())
	assert.True(t, exists(fresh.Path()))
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	s := openT(t, Config{Name: "seg", Size: 8192, Dir: dir, Cleanup: CleanupIfLast})
	defer s.Close()
	require.NoError(t, s.Publish())

	info, err := Inspect(dir, "seg")
	require.NoError(t, err)
	assert.Equal(t, 8192, info.Size)
	assert.Equal(t, os.Getpid(), info.CreatorPID)
	assert.Equal(t, CleanupIfLast, info.Cleanup)
	assert.Equal(t, 1, info.Usage)
	assert.True(t, info.Ready)
	assert.False(t, info.Invalidated)

	require.NoError(t, Remove(dir, "seg"))
	_, err = Inspect(dir, "seg")
	assert.Error(t, err)
}

func TestParseCleanup(t *testing.T) {
	for _, c := range []Cleanup{CleanupOnOwnerExit, CleanupAlways, CleanupNever, CleanupIfLast} {
		got, err := ParseCleanup(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCleanup("sometimes")
	assert.Error(t, err)
}
