// ABOUTME: Test utilities for creating isolated kv clients
// ABOUTME: Uses in-memory or temp-dir BadgerDB so tests never touch real data

package kv

import (
	"testing"
)

// NewTestClient opens an in-memory client that is closed when the test ends.
func NewTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory kv: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Logf("Warning: failed to close test kv: %v", err)
		}
	})
	return c
}

// NewTestDiskClient opens an on-disk client under a temp directory, for
// tests that need data to survive a reopen. It returns the directory so the
// test can reopen it.
func NewTestDiskClient(t *testing.T) (*Client, string) {
	t.Helper()

	dir := t.TempDir()
	c, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to open kv in %s: %v", dir, err)
	}
	return c, dir
}
