package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClassifier(t *testing.T) {
	t.Run("zero value scores nothing", func(t *testing.T) {
		var m MockClassifier
		p, err := m.Infer([]float32{0.5})
		require.NoError(t, err)
		assert.Zero(t, p)
		assert.Equal(t, 1, m.InferCalls())
	})

	t.Run("sequence cycles", func(t *testing.T) {
		m := NewMockClassifierSequence(0.2, 0.8)
		var got []float32
		for i := 0; i < 3; i++ {
			p, _ := m.Infer(nil)
			got = append(got, p)
		}
		assert.Equal(t, []float32{0.2, 0.8, 0.2}, got)
	})

	t.Run("lifecycle", func(t *testing.T) {
		m := NewMockClassifier(1)
		require.NoError(t, m.Reset())
		require.NoError(t, m.Destroy())
		assert.Equal(t, 1, m.Resets())
		assert.True(t, m.Destroyed())
	})
}

func TestToFloat32(t *testing.T) {
	got := toFloat32([]byte{0x00, 0x40, 0x00, 0xC0})
	assert.Equal(t, []float32{0.5, -0.5}, got)
}
