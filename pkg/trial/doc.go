// Package trial manages the one-shot free trial each mess may activate
// once, ever. Expiry of a running trial does not restore eligibility.
package trial
