package diskio

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) Handle {
	t.Helper()
	fs := afero.NewMemMapFs()
	ops := NewAferoFileOps(fs)
	h, err := ops.Open("/db/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestScheduler(t *testing.T) {
	t.Run("write then read round-trips", func(t *testing.T) {
		s := NewScheduler(newTestHandle(t))

		data := make([]byte, 4096)
		copy(data, []byte("hello world"))

		_, err := s.WriteAt(data, 0)
		require.NoError(t, err)

		buf := make([]byte, 4096)
		n, err := s.ReadAt(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, 4096, n)
		assert.Equal(t, data, buf)
	})

	t.Run("size reflects truncate", func(t *testing.T) {
		s := NewScheduler(newTestHandle(t))

		require.NoError(t, s.Truncate(8192))
		size, err := s.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(8192), size)
	})

	t.Run("requests to the same handle are serialized", func(t *testing.T) {
		s := NewScheduler(newTestHandle(t))
		require.NoError(t, s.Truncate(4096*8))

		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func(i int) {
				buf := make([]byte, 4096)
				buf[0] = byte(i)
				_, err := s.WriteAt(buf, int64(i)*4096)
				assert.NoError(t, err)
				done <- struct{}{}
			}(i)
		}
		for i := 0; i < 8; i++ {
			<-done
		}

		for i := 0; i < 8; i++ {
			buf := make([]byte, 4096)
			_, err := s.ReadAt(buf, int64(i)*4096)
			require.NoError(t, err)
			assert.Equal(t, byte(i), buf[0])
		}
	})
}
