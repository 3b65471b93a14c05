// Package messes manages tenant accounts and their member rosters.
package messes
