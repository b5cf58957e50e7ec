package server

import "github.com/btcsuite/btclog/v2"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by this Server's accept
// loop, connection handlers, and admin-command consumer.
func UseLogger(logger btclog.Logger) {
	log = logger
}
