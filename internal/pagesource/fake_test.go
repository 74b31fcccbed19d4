package pagesource

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestFakeSourceFetchIsZeroFilled(t *testing.T) {
	src := NewFakeSource()

	ptr, err := src.Fetch(128)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	b := unsafe.Slice((*byte)(ptr), 128)
	for i, v := range b {
		require.Zero(t, v, "byte %d not zero-filled", i)
	}
}

func TestFakeSourceFetchTracksLiveRegions(t *testing.T) {
	src := NewFakeSource()
	require.Zero(t, src.LiveRegions())

	ptr, err := src.Fetch(64)
	require.NoError(t, err)
	require.Equal(t, 1, src.LiveRegions())

	require.NoError(t, src.Release(ptr, 64))
	require.Zero(t, src.LiveRegions())
}

func TestFakeSourceFailNextFetchFailsOnceThenRecovers(t *testing.T) {
	src := NewFakeSource()
	src.FailNextFetch()

	_, err := src.Fetch(64)
	require.ErrorIs(t, err, ErrFetchFailed)

	ptr, err := src.Fetch(64)
	require.NoError(t, err)
	require.NotNil(t, ptr)
}

func TestFakeSourceReleaseOfUntrackedPointerFails(t *testing.T) {
	src := NewFakeSource()
	b := make([]byte, 16)
	require.Error(t, src.Release(unsafe.Pointer(&b[0]), 16))
}

func TestFakeSourceReleaseWithWrongLengthFails(t *testing.T) {
	src := NewFakeSource()

	ptr, err := src.Fetch(64)
	require.NoError(t, err)
	require.Error(t, src.Release(ptr, 32))
}

func TestFakeSourceReleaseNilIsNoop(t *testing.T) {
	src := NewFakeSource()
	require.NoError(t, src.Release(nil, 0))
}

func TestFakeSourceFetchRejectsNonPositiveSize(t *testing.T) {
	src := NewFakeSource()
	_, err := src.Fetch(0)
	require.Error(t, err)
}
