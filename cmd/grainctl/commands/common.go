package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rcelha/grain/internal/client"
	"github.com/rcelha/grain/internal/dbutil"
	"github.com/rcelha/grain/internal/membership"
)

// getClient opens the membership store named by the --backend flag and
// wraps it in an internal/client.Client. The local backend is rejected:
// it's an in-process map, so a separate grainctl process can never see
// the same one a running graind used.
func getClient() (*client.Client, error) {
	membershipStore, err := openMembershipStore()
	if err != nil {
		return nil, err
	}
	return client.New(membershipStore), nil
}

func openMembershipStore() (membership.Store, error) {
	switch backend {
	case "sqlite":
		db, err := dbutil.OpenSQLite(dataDir + "/membership.db")
		if err != nil {
			return nil, fmt.Errorf("open membership db: %w", err)
		}
		return membership.NewSqlStore(db), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		return membership.NewRedisStore(rdb, redisPrefix+":membership"), nil

	case "local":
		return nil, fmt.Errorf(
			"backend=local has no shared state across processes; " +
				"start graind with --backend sqlite or --backend redis to use grainctl")

	default:
		return nil, fmt.Errorf("unknown backend %q (want sqlite or redis)", backend)
	}
}
