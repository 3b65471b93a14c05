// Package audit provides an append-only audit trail for security and
// money-movement sensitive events: rejected webhooks, admin credit
// adjustments, bill waivers, and manual proof decisions.
package audit
