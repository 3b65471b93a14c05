// Package pricing resolves per-cycle costs from member-count slabs. The
// slab set must partition the member-count domain; admin mutations and the
// startup seed both run through the same validation.
package pricing
