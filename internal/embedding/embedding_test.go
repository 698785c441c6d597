package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
		{"empty", nil, []float32{1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, Config{Model: "m"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{BaseURL: "http://x"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{BaseURL: "http://x", Model: "m"}.Validate())
}

func TestServiceRejectsEmptyInput(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://127.0.0.1:1/v1", Model: "test"})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrEmptyInput))
}
