// Command graind runs one node of a grain cluster: it binds a listener,
// activates and places objects on demand, answers requests and
// subscriptions, and gossips liveness with its peers. It ships one
// registered type, internal/counter, so the binary is runnable end to end
// without an application embedding this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/build"
	"github.com/rcelha/grain/internal/client"
	"github.com/rcelha/grain/internal/counter"
	"github.com/rcelha/grain/internal/dbutil"
	"github.com/rcelha/grain/internal/membership"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/router"
	"github.com/rcelha/grain/internal/server"
	"github.com/rcelha/grain/internal/service"
	"github.com/rcelha/grain/internal/statestore"
)

func main() {
	var (
		addr           = flag.String("addr", "127.0.0.1:7070", "Address this node listens on and advertises to peers")
		backend        = flag.String("backend", "local", "Storage backend for membership/placement/state: local, sqlite, or redis")
		dataDir        = flag.String("data-dir", "~/.graind/data", "Directory for sqlite database files (backend=sqlite)")
		redisAddr      = flag.String("redis-addr", "127.0.0.1:6379", "Redis address (backend=redis)")
		redisPrefix    = flag.String("redis-prefix", "grain", "Key prefix shared by the redis-backed stores")
		logDir         = flag.String("log-dir", "~/.graind/logs", "Directory for log files (empty to disable file logging)")
		maxLogFiles    = flag.Int("max-log-files", build.DefaultMaxLogFiles, "Maximum number of rotated log files to keep")
		maxLogFileSize = flag.Int("max-log-file-size", build.DefaultMaxLogFileSize, "Maximum log file size in MB before rotation")
		probeInterval  = flag.Duration("probe-interval", 10*time.Second, "How often the liveness loop re-probes peers")
		probeTimeout   = flag.Duration("probe-timeout", 2*time.Second, "Per-peer dial/ping timeout for liveness probes")
		failThreshold  = flag.Int("failure-threshold", 3, "Probe failures within failure-window above which a peer is marked inactive")
		failWindow     = flag.Duration("failure-window", 60*time.Second, "Window over which failure-threshold is evaluated")
		fanOut         = flag.Int("fanout", 3, "Peers probed per liveness tick")
	)
	flag.Parse()

	expandHome := func(path string) string {
		expanded := os.ExpandEnv(path)
		if expanded == path && len(path) > 0 && path[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf("failed to get home directory: %v", err)
			}
			expanded = home + path[1:]
		}
		return expanded
	}

	dataDirExpanded := expandHome(*dataDir)
	logDirExpanded := expandHome(*logDir)

	var logRotator *build.RotatingLogWriter
	if logDirExpanded != "" {
		logRotator = build.NewRotatingLogWriter()
		err := logRotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDirExpanded,
			MaxLogFiles:    *maxLogFiles,
			MaxLogFileSize: *maxLogFileSize,
			Filename:       "graind.log",
		})
		if err != nil {
			log.Printf("failed to init log rotator: %v (continuing without file logging)", err)
			logRotator = nil
		} else {
			defer logRotator.Close()

			multiWriter := io.MultiWriter(os.Stderr, logRotator)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags)
		}
	}

	log.Printf("graind version %s commit=%s go=%s", build.Version(), commitInfo(), build.GoVersion)

	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))
	if logRotator != nil {
		handlers = append(handlers, btclog.NewDefaultHandler(logRotator))
		log.Printf("log file rotation enabled: dir=%s, max_files=%d, max_size=%dMB",
			logDirExpanded, *maxLogFiles, *maxLogFileSize)
	}
	handlerSet := build.NewHandlerSet(handlers...)

	wireLoggers(handlerSet)

	membershipStore, placementStore, stateStore, closeStores, err := buildStores(
		*backend, dataDirExpanded, *redisAddr, *redisPrefix)
	if err != nil {
		log.Fatalf("failed to build stores: %v", err)
	}
	defer closeStores()

	reg := registry.New()
	registry.RegisterType[*counter.Counter](reg, counter.Kind, counter.New)
	registry.RegisterHandler[*counter.Counter, counter.IncrementMessage, int64](
		reg, counter.Kind, "Increment", counter.IncrementHandler{})

	data := appdata.New()
	appdata.Set[statestore.Store](data, stateStore)

	cfg := membership.Config{
		Interval:         *probeInterval,
		FailureThreshold: *failThreshold,
		FailureWindow:    *failWindow,
		FanOut:           *fanOut,
	}
	prober := client.ClientProber{DialTimeout: *probeTimeout}
	cluster := membership.NewClusterProvider(membershipStore, prober, cfg)

	srv := server.New(objectid.Address(*addr), reg, router.New(), placementStore, cluster, data)

	listener, err := srv.Bind()
	if err != nil {
		log.Fatalf("failed to bind %s: %v", *addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received %v, initiating graceful shutdown (send again to force exit)...", sig)
		cancel()

		sig = <-sigCh
		log.Printf("received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()

	log.Printf("graind listening on %s (backend=%s)", listener.Addr(), *backend)
	if err := srv.Run(ctx, listener); err != nil && ctx.Err() == nil {
		log.Fatalf("server error: %v", err)
	}
}

// wireLoggers hands every subsystem package its own tagged btclog.Logger,
// mirroring how substrated wires internal/baselib/actor and internal/review
// off the same HandlerSet.
func wireLoggers(handlerSet *build.HandlerSet) {
	root := btclog.NewSLogger(handlerSet)

	membership.UseLogger(build.NewSubLogger(membership.Subsystem, root))
	placement.UseLogger(build.NewSubLogger(placement.Subsystem, root))
	statestore.UseLogger(build.NewSubLogger(statestore.Subsystem, root))
	registry.UseLogger(build.NewSubLogger(registry.Subsystem, root))
	router.UseLogger(build.NewSubLogger(router.Subsystem, root))
	objectsvc.UseLogger(build.NewSubLogger(objectsvc.Subsystem, root))
	service.UseLogger(build.NewSubLogger(service.Subsystem, root))
	server.UseLogger(build.NewSubLogger(server.Subsystem, root))
	client.UseLogger(build.NewSubLogger(client.Subsystem, root))
}

// buildStores constructs the membership/placement/state stores named by
// backend. The sqlite and redis variants share one physical backend (one
// sqlite directory, one redis instance) across all three stores, keyed
// apart by file name or key prefix, since a single node process has no use
// for three independent databases.
func buildStores(backend, dataDir, redisAddr, redisPrefix string) (
	membership.Store, placement.Store, statestore.Store, func(), error,
) {
	switch backend {
	case "local":
		return membership.NewLocalStore(), placement.NewLocalStore(), statestore.NewLocalStore(),
			func() {}, nil

	case "sqlite":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create data dir: %w", err)
		}

		membershipDB, err := dbutil.OpenSQLite(dataDir + "/membership.db")
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open membership db: %w", err)
		}
		placementDB, err := dbutil.OpenSQLite(dataDir + "/placement.db")
		if err != nil {
			membershipDB.Close()
			return nil, nil, nil, nil, fmt.Errorf("open placement db: %w", err)
		}
		stateDB, err := dbutil.OpenSQLite(dataDir + "/state.db")
		if err != nil {
			membershipDB.Close()
			placementDB.Close()
			return nil, nil, nil, nil, fmt.Errorf("open state db: %w", err)
		}

		closeFn := func() {
			membershipDB.Close()
			placementDB.Close()
			stateDB.Close()
		}

		logger := slog.Default()

		membershipStore := membership.NewSqlStore(membershipDB)
		if err := membershipStore.Migrate(logger); err != nil {
			closeFn()
			return nil, nil, nil, nil, fmt.Errorf("migrate membership db: %w", err)
		}
		placementStore := placement.NewSqlStore(placementDB)
		if err := placementStore.Migrate(logger); err != nil {
			closeFn()
			return nil, nil, nil, nil, fmt.Errorf("migrate placement db: %w", err)
		}
		stateStore := statestore.NewSqlStore(stateDB)
		if err := stateStore.Migrate(logger); err != nil {
			closeFn()
			return nil, nil, nil, nil, fmt.Errorf("migrate state db: %w", err)
		}

		return membershipStore, placementStore, stateStore, closeFn, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		closeFn := func() { rdb.Close() }

		return membership.NewRedisStore(rdb, redisPrefix+":membership"),
			placement.NewRedisStore(rdb, redisPrefix+":placement"),
			statestore.NewRedisStore(rdb, redisPrefix+":state"),
			closeFn, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown backend %q (want local, sqlite, or redis)", backend)
	}
}

// commitInfo returns the best available commit identifier.
func commitInfo() string {
	if build.Commit != "" {
		return build.Commit
	}
	if build.CommitHash != "" {
		return build.CommitHash
	}
	return "dev"
}
