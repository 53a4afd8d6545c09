package structstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
	"github.com/hupe1980/structstore/testutil"
)

func openShared(t *testing.T, name, dir string, opts ...structstore.Option) *structstore.Shared {
	t.Helper()
	sh, err := structstore.OpenShared(name, 16384, append([]structstore.Option{structstore.WithFileBacking(dir)}, opts...)...)
	require.NoError(t, err)
	return sh
}

func rootOf(t *testing.T, sh *structstore.Shared) *structstore.Store {
	t.Helper()
	s, err := sh.Store()
	require.NoError(t, err)
	return s
}

func exists(t *testing.T, dir, name string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestShared_TwoHandlesSeeSameStore(t *testing.T) {
	name, dir := testutil.Segment(t)
	a := openShared(t, "/"+name, dir)
	defer a.Close()
	b := openShared(t, "/"+name, dir)
	defer b.Close()

	assert.True(t, a.Created())
	assert.False(t, b.Created())
	assert.Equal(t, 2, a.Usage())
	assert.NotEqual(t, a.Addr(), b.Addr())

	sub, err := rootOf(t, a).AddStore("sub")
	require.NoError(t, err)
	require.NoError(t, sub.Set("msg", "hello"))

	other, err := rootOf(t, b).Store("sub")
	require.NoError(t, err)
	msg, err := other.String("msg")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)
	require.NoError(t, rootOf(t, b).Check())
}

func TestShared_LocksExcludeAcrossMappings(t *testing.T) {
	name, dir := testutil.Segment(t)
	a := openShared(t, name, dir)
	defer a.Close()
	b := openShared(t, name, dir, structstore.WithLockTimeout(20*time.Millisecond))
	defer b.Close()

	g, err := rootOf(t, a).WriteLock()
	require.NoError(t, err)

	err = rootOf(t, b).Set("x", 1)
	require.ErrorIs(t, err, structstore.ErrLockTimeout)
	g.Release()

	require.NoError(t, rootOf(t, b).Set("x", 1))
	x, err := rootOf(t, a).Int("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)
}

func TestShared_CleanupPolicies(t *testing.T) {
	tests := []struct {
		name         string
		cleanup      structstore.Cleanup
		afterCreator bool // segment still exists once the creator closed
		afterLast    bool // segment still exists once every handle closed
	}{
		{"never", structstore.CleanupNever, true, true},
		{"always", structstore.CleanupAlways, false, false},
		{"on owner exit", structstore.CleanupOnOwnerExit, false, false},
		{"if last", structstore.CleanupIfLast, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, dir := testutil.Segment(t)
			creator := openShared(t, name, dir, structstore.WithCleanup(tt.cleanup))
			other := openShared(t, name, dir, structstore.WithCleanup(tt.cleanup))
			require.True(t, exists(t, dir, name))

			require.NoError(t, creator.Close())
			assert.Equal(t, tt.afterCreator, exists(t, dir, name), "after creator close")
			require.NoError(t, other.Close())
			assert.Equal(t, tt.afterLast, exists(t, dir, name), "after last close")

			if tt.afterLast {
				require.NoError(t, structstore.Unlink(name, structstore.WithFileBacking(dir)))
				assert.False(t, exists(t, dir, name))
			}
		})
	}
}

func TestShared_AttachKeepsContent(t *testing.T) {
	name, dir := testutil.Segment(t)
	a := openShared(t, name, dir, structstore.WithCleanup(structstore.CleanupNever))
	require.NoError(t, rootOf(t, a).Set("kept", 7))
	require.NoError(t, a.Close())

	b := openShared(t, name, dir, structstore.WithCleanup(structstore.CleanupAlways))
	defer b.Close()
	assert.False(t, b.Created())
	v, err := rootOf(t, b).Int("kept")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestShared_ReinitAndRevalidate(t *testing.T) {
	name, dir := testutil.Segment(t)
	a := openShared(t, name, dir)
	defer a.Close()
	old := rootOf(t, a)
	require.NoError(t, old.Set("gen", 1))

	b := openShared(t, name, dir, structstore.WithReinit(true))
	defer b.Close()
	assert.True(t, b.Created())
	require.NoError(t, rootOf(t, b).Set("gen", 2))

	assert.True(t, a.Invalidated())
	require.NoError(t, a.Revalidate())
	assert.False(t, a.Invalidated())

	gen, err := rootOf(t, a).Int("gen")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	// Handles into the replaced segment are closed.
	_, err = old.Get("gen")
	assert.ErrorIs(t, err, structstore.ErrClosed)

	// Revalidating an unchanged segment is a no-op.
	require.NoError(t, b.Revalidate())
	require.NoError(t, rootOf(t, b).Check())
}

func TestShared_Inspect(t *testing.T) {
	name, dir := testutil.Segment(t)
	_, err := structstore.InspectShared(name, structstore.WithFileBacking(dir))
	require.Error(t, err)

	a := openShared(t, name, dir, structstore.WithCleanup(structstore.CleanupIfLast))
	defer a.Close()

	info, err := structstore.InspectShared(name, structstore.WithFileBacking(dir))
	require.NoError(t, err)
	assert.Equal(t, name, info.Name)
	assert.Equal(t, filepath.Join(dir, name), info.Path)
	assert.Equal(t, os.Getpid(), info.CreatorPID)
	assert.Equal(t, 1, info.Usage)
	assert.True(t, info.Ready)
	assert.False(t, info.Invalidated)
	assert.Equal(t, structstore.CleanupIfLast, info.Cleanup)
}

func TestShared_InvalidArguments(t *testing.T) {
	name, dir := testutil.Segment(t)
	_, err := structstore.OpenShared(name, 10, structstore.WithFileBacking(dir))
	assert.ErrorIs(t, err, structstore.ErrInvalidArgument)

	_, err = structstore.OpenShared("a/b", 16384, structstore.WithFileBacking(dir))
	assert.ErrorIs(t, err, structstore.ErrInvalidArgument)

	// Shared roots are closed through their Shared handle.
	sh := openShared(t, name, dir)
	defer sh.Close()
	assert.ErrorIs(t, rootOf(t, sh).Close(), structstore.ErrUnsupportedOperation)
}
