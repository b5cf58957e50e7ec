package client

import "github.com/btcsuite/btclog/v2"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by Client's retry loop and
// Subscription's reconnect loop.
func UseLogger(logger btclog.Logger) {
	log = logger
}
