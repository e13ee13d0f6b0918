package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ofslabs/ofs/internal/ofs/object"
)

func TestAppendDirent_WritesWithinLimit(t *testing.T) {
	var buf []byte
	n := appendDirent(&buf, 4096, dirent{ino: 7, offset: 1, name: "hello", kind: object.RegularFile})
	require.Greater(t, n, 0)
	require.Len(t, buf, n)
}

func TestAppendDirent_ZeroWhenOverLimit(t *testing.T) {
	var buf []byte
	n := appendDirent(&buf, 1, dirent{ino: 7, offset: 1, name: "hello", kind: object.RegularFile})
	require.Equal(t, 0, n)
	require.Empty(t, buf)
}

func TestAppendDirent_AccumulatesAcrossCalls(t *testing.T) {
	var buf []byte
	n1 := appendDirent(&buf, 4096, dirent{ino: 1, offset: 1, name: "a", kind: object.RegularFile})
	n2 := appendDirent(&buf, 4096, dirent{ino: 2, offset: 2, name: "b", kind: object.Directory})
	require.Len(t, buf, n1+n2)
}

func TestDirectType(t *testing.T) {
	require.EqualValues(t, 4, directType(object.Directory))
	require.EqualValues(t, 8, directType(object.RegularFile))
}
