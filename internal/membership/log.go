package membership

import "github.com/btcsuite/btclog/v2"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by every Store
// implementation and the ClusterProvider in this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
