package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlobby/internal/core/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		path string
		want Path
	}{
		{"rooms", Path{Collection: "rooms"}},
		{"rooms/r1", Path{Collection: "rooms", Doc: "r1"}},
		{"rooms/r1/participants", Path{Collection: "rooms", Doc: "r1", Field: "participants"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Parse(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Depth(t *testing.T) {
	p, err := Parse("rooms")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Depth())

	p, err = Parse("rooms/r1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Depth())

	p, err = Parse("rooms/r1/name")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Depth())
}

func TestParse_Invalid(t *testing.T) {
	for _, path := range []string{
		"",
		"/",
		"/rooms",
		"rooms/",
		"rooms//participants",
		"rooms/r1/participants/extra",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := Parse(path)
			assert.ErrorIs(t, err, domain.ErrPathInvalid)
		})
	}
}
