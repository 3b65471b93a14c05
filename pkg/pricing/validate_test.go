package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSlabs(t *testing.T) {
	tests := []struct {
		name    string
		slabs   []Slab
		wantErr bool
	}{
		{
			name: "valid partition",
			slabs: []Slab{
				{MinUsers: 0, MaxUsers: 25, CycleCost: 500},
				{MinUsers: 26, MaxUsers: 50, CycleCost: 900},
				{MinUsers: 51, MaxUsers: 1000, CycleCost: 1500},
			},
		},
		{
			name: "unsorted input is fine",
			slabs: []Slab{
				{MinUsers: 26, MaxUsers: 50, CycleCost: 900},
				{MinUsers: 0, MaxUsers: 25, CycleCost: 500},
			},
		},
		{
			name:  "single slab",
			slabs: []Slab{{MinUsers: 0, MaxUsers: 100, CycleCost: 500}},
		},
		{
			name:    "empty set",
			slabs:   nil,
			wantErr: true,
		},
		{
			name: "gap between bands",
			slabs: []Slab{
				{MinUsers: 0, MaxUsers: 25, CycleCost: 500},
				{MinUsers: 30, MaxUsers: 50, CycleCost: 900},
			},
			wantErr: true,
		},
		{
			name: "overlapping bands",
			slabs: []Slab{
				{MinUsers: 0, MaxUsers: 25, CycleCost: 500},
				{MinUsers: 20, MaxUsers: 50, CycleCost: 900},
			},
			wantErr: true,
		},
		{
			name:    "inverted band",
			slabs:   []Slab{{MinUsers: 10, MaxUsers: 5, CycleCost: 500}},
			wantErr: true,
		},
		{
			name:    "negative min",
			slabs:   []Slab{{MinUsers: -1, MaxUsers: 5, CycleCost: 500}},
			wantErr: true,
		},
		{
			name:    "negative cost",
			slabs:   []Slab{{MinUsers: 0, MaxUsers: 5, CycleCost: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlabs(tt.slabs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSlabs)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSlabCovers(t *testing.T) {
	slab := Slab{MinUsers: 26, MaxUsers: 50}
	assert.True(t, slab.Covers(26))
	assert.True(t, slab.Covers(50))
	assert.False(t, slab.Covers(25))
	assert.False(t, slab.Covers(51))
}
