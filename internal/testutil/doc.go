// Package testutil holds fluent builders for events and sessions used by
// package tests. It is not intended for production usage.
package testutil
