package pricing

import "time"

// Slab maps an active-member band to a per-cycle cost in credits. The
// configured slabs must partition the member-count domain: sorted by
// MinUsers, contiguous, non-overlapping.
type Slab struct {
	ID        int64     `json:"id"`
	MinUsers  int       `json:"min_users" yaml:"min_users"`
	MaxUsers  int       `json:"max_users" yaml:"max_users"`
	CycleCost int64     `json:"cycle_cost" yaml:"cycle_cost"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Covers reports whether the slab's band includes the given member count.
func (s Slab) Covers(users int) bool {
	return users >= s.MinUsers && users <= s.MaxUsers
}

// SlabRequest is the admin create/update payload.
type SlabRequest struct {
	MinUsers  int   `json:"min_users"`
	MaxUsers  int   `json:"max_users"`
	CycleCost int64 `json:"cycle_cost"`
}
