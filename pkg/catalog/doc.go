// Package catalog manages the purchasable credit plans.
package catalog
