package build

import "github.com/btcsuite/btclog/v2"

// NewSubLogger returns a tagged sub-logger of root, the same way graind
// hands each subsystem (registry, membership, placement, ...) its own
// prefixed view onto the daemon's combined console+file handler. If root is
// nil (as in tests that never call UseLogger), the returned logger
// discards everything.
func NewSubLogger(tag string, root btclog.Logger) btclog.Logger {
	if root == nil {
		return btclog.Disabled
	}
	return root.WithPrefix(tag)
}
