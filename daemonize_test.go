package kitd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Daemonize's re-exec path calls os.Exit on success, which would tear
// down the test binary itself — only the idempotency guard is checked
// here; the re-exec path is exercised manually (run with -d, inspect
// the resulting process tree).
func TestDaemonizeNoopWhenAlreadyDaemonized(t *testing.T) {
	t.Setenv(daemonizedEnv, "1")
	assert.NoError(t, Daemonize())
}
