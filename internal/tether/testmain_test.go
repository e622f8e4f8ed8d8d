package tether_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain runs every test in this package and checks for goroutine leaks
// afterward, since these tests start actor and monitor goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
