package testutil

import (
	"flag"
	"testing"
)

var long = flag.Bool("long", false, "grow repository tests to full size")

// Scale picks the workload size for a repository test: short by default and
// full when the suite runs with -long.
func Scale(t testing.TB, short, full int) int {
	t.Helper()
	if *long {
		return full
	}
	if testing.Short() {
		t.Skip("repository workload skipped in -short mode")
	}
	return short
}
