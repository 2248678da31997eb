package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Value int64
}

func TestToByteSliceAndBack(t *testing.T) {
	const pageSize = 16

	buf, err := ToByteSlice(counter{Value: 42}, pageSize)
	require.NoError(t, err)
	assert.Len(t, buf, pageSize)

	got, err := ToStruct[counter](buf)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Value)
}

func TestToByteSliceOversizedValueIsNotTruncated(t *testing.T) {
	big := make([]byte, 64)
	for i := range big {
		big[i] = byte(i)
	}

	buf, err := ToByteSlice(big, 8)
	require.NoError(t, err)

	got, err := ToStruct[[]byte](buf)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}
