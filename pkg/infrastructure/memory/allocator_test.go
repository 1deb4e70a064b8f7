package memory

import (
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedAllocator(t *testing.T) {
	underlying := memory.NewGoAllocator()

	t.Run("Allocate", func(t *testing.T) {
		allocator := NewTrackedAllocator(underlying)
		assert.Equal(t, int64(0), allocator.BytesUsed())

		buf := allocator.Allocate(1024)
		require.Len(t, buf, 1024)
		buf2 := allocator.Allocate(1024)
		require.Len(t, buf2, 1024)

		assert.Equal(t, Stats{BytesUsed: 2048, PeakBytes: 2048, Allocations: 2}, allocator.Stats())
	})

	t.Run("Reallocate", func(t *testing.T) {
		allocator := NewTrackedAllocator(underlying)

		buf := allocator.Allocate(512)
		buf = allocator.Reallocate(1024, buf)
		require.Len(t, buf, 1024)
		assert.Equal(t, int64(1024), allocator.BytesUsed())

		buf = allocator.Reallocate(256, buf)
		require.Len(t, buf, 256)
		assert.Equal(t, int64(256), allocator.BytesUsed())
		assert.Equal(t, int64(1024), allocator.Stats().PeakBytes, "peak is a high-water mark")
	})

	t.Run("Free", func(t *testing.T) {
		allocator := NewTrackedAllocator(underlying)

		buf1 := allocator.Allocate(1024)
		buf2 := allocator.Allocate(1024)
		allocator.Free(buf1)
		assert.Equal(t, int64(1024), allocator.BytesUsed())
		allocator.Free(buf2)
		assert.Equal(t, int64(0), allocator.BytesUsed())
		assert.Equal(t, int64(2048), allocator.Stats().PeakBytes)
	})

	t.Run("NilUnderlying", func(t *testing.T) {
		allocator := NewTrackedAllocator(nil)
		buf := allocator.Allocate(64)
		require.Len(t, buf, 64)
		allocator.Free(buf)
		assert.Equal(t, int64(0), allocator.BytesUsed())
	})

	t.Run("ArrowBuildersReturnToZero", func(t *testing.T) {
		allocator := NewTrackedAllocator(underlying)

		b := array.NewStringBuilder(allocator)
		b.AppendValues([]string{"Bankhead Dam", "Barry"}, nil)
		arr := b.NewArray()
		b.Release()
		assert.Greater(t, allocator.BytesUsed(), int64(0))

		arr.Release()
		assert.Equal(t, int64(0), allocator.BytesUsed())
	})

	t.Run("ConcurrentAllocation", func(t *testing.T) {
		allocator := NewTrackedAllocator(underlying)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := allocator.Allocate(1024)
				allocator.Free(buf)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(0), allocator.BytesUsed())
		assert.Equal(t, int64(10), allocator.Stats().Allocations)
	})
}
