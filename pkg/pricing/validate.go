package pricing

import (
	"fmt"
	"sort"
)

// ValidateSlabs checks that the slab set partitions the member-count
// domain: every band well-formed, sorted contiguous, no overlaps, no gaps.
// The input is not mutated.
func ValidateSlabs(slabs []Slab) error {
	if len(slabs) == 0 {
		return fmt.Errorf("%w: no slabs configured", ErrInvalidSlabs)
	}

	sorted := make([]Slab, len(slabs))
	copy(sorted, slabs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinUsers < sorted[j].MinUsers })

	for i, s := range sorted {
		if s.MinUsers < 0 {
			return fmt.Errorf("%w: negative min_users %d", ErrInvalidSlabs, s.MinUsers)
		}
		if s.MaxUsers < s.MinUsers {
			return fmt.Errorf("%w: band [%d, %d] is inverted", ErrInvalidSlabs, s.MinUsers, s.MaxUsers)
		}
		if s.CycleCost < 0 {
			return fmt.Errorf("%w: negative cycle cost for band [%d, %d]", ErrInvalidSlabs, s.MinUsers, s.MaxUsers)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		switch {
		case s.MinUsers <= prev.MaxUsers:
			return fmt.Errorf("%w: band [%d, %d] overlaps [%d, %d]",
				ErrInvalidSlabs, s.MinUsers, s.MaxUsers, prev.MinUsers, prev.MaxUsers)
		case s.MinUsers > prev.MaxUsers+1:
			return fmt.Errorf("%w: gap between %d and %d",
				ErrInvalidSlabs, prev.MaxUsers, s.MinUsers)
		}
	}
	return nil
}
