//go:build poolcheck

package memory

const checksEnabled = true
