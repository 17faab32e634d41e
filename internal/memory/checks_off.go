//go:build !poolcheck

package memory

// checksEnabled turns on bookkeeping assertions in the table and engine.
// Build with -tags poolcheck to enable them.
const checksEnabled = false
