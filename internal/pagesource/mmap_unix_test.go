//go:build unix

package pagesource

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/scalealloc/hoard/internal/memutils"
)

func TestMmapSourceFetchIsZeroFilledAndWritable(t *testing.T) {
	src := New()

	ptr, err := src.Fetch(4096)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	b := unsafe.Slice((*byte)(ptr), 4096)
	for i, v := range b {
		require.Zero(t, v, "byte %d not zero-filled", i)
	}

	b[0] = 0xFF
	b[4095] = 0xFF
	require.Equal(t, byte(0xFF), b[0])

	require.NoError(t, src.Release(ptr, 4096))
}

func TestMmapSourceFetchRoundsUpToPageSize(t *testing.T) {
	src := New().(*mmapSource)

	ptr, err := src.Fetch(1)
	require.NoError(t, err)
	defer src.Release(ptr, 1)

	require.Equal(t, src.pageSize, memutils.AlignUp(1, uintptr(src.pageSize)))
}

func TestMmapSourceFetchRejectsNonPositiveSize(t *testing.T) {
	src := New()
	_, err := src.Fetch(0)
	require.Error(t, err)
}
