package mediasearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		name  string
		total int
		k     int
		want  []int
	}{
		{name: "100 frames", total: 100, k: 8, want: []int{0, 14, 28, 42, 56, 70, 84, 99}},
		{name: "exact", total: 8, k: 8, want: []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{name: "fewer frames than samples", total: 3, k: 8, want: []int{0, 0, 0, 0, 1, 1, 1, 2}},
		{name: "single frame", total: 1, k: 8, want: []int{0, 0, 0, 0, 0, 0, 0, 0}},
		{name: "single sample", total: 50, k: 1, want: []int{0}},
		{name: "no frames", total: 0, k: 8, want: nil},
		{name: "no samples", total: 10, k: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SampleIndices(tt.total, tt.k))
		})
	}
}

func TestSampleIndices_Deterministic(t *testing.T) {
	for total := 1; total < 500; total += 7 {
		for k := 1; k <= 16; k++ {
			a := SampleIndices(total, k)
			b := SampleIndices(total, k)
			require.Equal(t, a, b)
			require.Len(t, a, k)
			assert.Equal(t, 0, a[0])
			if k > 1 {
				assert.Equal(t, total-1, a[k-1])
			}
			for i := 1; i < len(a); i++ {
				assert.LessOrEqual(t, a[i-1], a[i])
			}
		}
	}
}

func TestSampleFrames_SkipsUnreadable(t *testing.T) {
	v := &fakeVideo{
		total:  100,
		frames: map[int]string{0: "f0", 28: "f28", 99: "f99"},
	}
	got, err := SampleFrames(context.Background(), v, 8)
	require.NoError(t, err)

	assert.Equal(t, 100, got.Total)
	assert.Equal(t, []int{0, 28, 99}, got.Indices)
	require.Len(t, got.Frames, 3)
	assert.Equal(t, "f28", string(got.Frames[1].Data))
	// 每个序号只尝试一次
	assert.Equal(t, []int{0, 14, 28, 42, 56, 70, 84, 99}, v.requests)
}

func TestSampleFrames_NoFrames(t *testing.T) {
	t.Run("all unreadable", func(t *testing.T) {
		_, err := SampleFrames(context.Background(), &fakeVideo{total: 10}, 8)
		assert.ErrorIs(t, err, ErrNoFramesDecoded)
	})
	t.Run("zero frame count", func(t *testing.T) {
		_, err := SampleFrames(context.Background(), &fakeVideo{total: 0}, 8)
		assert.ErrorIs(t, err, ErrNoFramesDecoded)
	})
	t.Run("frame count error", func(t *testing.T) {
		_, err := SampleFrames(context.Background(), &fakeVideo{countErr: errors.New("corrupt")}, 8)
		assert.ErrorIs(t, err, ErrNoFramesDecoded)
	})
}

func TestSampleFrames_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SampleFrames(ctx, &fakeVideo{total: 10, frames: map[int]string{0: "f"}}, 8)
	assert.ErrorIs(t, err, context.Canceled)
}
