// Package testutil contains fakes and builders shared by the package tests:
// a recording dispatcher, a counting credential broker and fluent builders
// for descriptors, history entries and sessions. Not intended for
// production usage.
package testutil
