// matchctl is a command-line client for a matchstore backend: connect to
// it, read or write single games, list recent activity. Configuration comes
// from MATCHSTORE_* environment variables; flags override.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tablegames/matchstore"
	"github.com/tablegames/matchstore/matchs3"
	"github.com/tablegames/matchstore/matchsql"
	"github.com/tablegames/matchstore/mlog"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\n", os.Args[0])
	fmt.Fprint(out, "Commands:\n")
	fmt.Fprint(out, "  ping                             Connect to the backend and exit\n")
	fmt.Fprint(out, "  get <game-id>                    Print a game's state as JSON\n")
	fmt.Fprint(out, "  set <game-id> <state-id> [json]  Write a game state (JSON from arg or stdin)\n")
	fmt.Fprint(out, "  has <game-id>                    Print true or false\n")
	fmt.Fprint(out, "  recent [n]                       List recently written games (default 10)\n\n")
	fmt.Fprint(out, "Flags (defaults come from the MATCHSTORE_* environment):\n")
	flag.PrintDefaults()
}

func main() {
	cfg, err := matchstore.ParseConfig()
	if err != nil {
		mlog.Fatalf("Invalid environment: %v", err)
	}
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend,
		"Store backend: memory, file, redis, postgres, sqlite, s3 (env: MATCHSTORE_BACKEND)")
	flag.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize,
		"Write-through cache capacity (env: MATCHSTORE_CACHE_SIZE)")
	flag.StringVar(&cfg.FileDir, "file-dir", cfg.FileDir,
		"Base directory of the file backend (env: MATCHSTORE_FILE_DIR)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr,
		"Redis address (env: MATCHSTORE_REDIS_ADDR)")
	flag.DurationVar(&cfg.RedisGameTTL, "redis-game-ttl", cfg.RedisGameTTL,
		"Expiry for games in Redis, 0 keeps them forever (env: MATCHSTORE_REDIS_GAME_TTL)")
	flag.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL,
		"Postgres connection URL (env: MATCHSTORE_POSTGRES_URL)")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath,
		"SQLite database file (env: MATCHSTORE_SQLITE_PATH)")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket,
		"S3 bucket (env: MATCHSTORE_S3_BUCKET)")
	flag.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix,
		"S3 key prefix (env: MATCHSTORE_S3_PREFIX)")
	flag.Float64Var(&cfg.FaultRate, "fault-rate", cfg.FaultRate,
		"Injected store failure rate, for drills (env: MATCHSTORE_FAULT_RATE)")
	jsonLog := flag.Bool("log-json", false, "Log in JSON format")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-command timeout")
	flag.Usage = usage
	flag.Parse()

	if *jsonLog {
		mlog.UseJSONLogger()
	}
	if err := cfg.Validate(); err != nil {
		mlog.Fatalf("Invalid configuration: %v", err)
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := matchstore.NewCachedStore(openStore(cfg), cfg.CacheSize)
	if err != nil {
		mlog.Fatalf("Failed to create store: %v", err)
	}
	if err := db.Connect(ctx); err != nil {
		os.Exit(1) // Connect already logged the cause.
	}
	if err := runAndClose(ctx, db, args); err != nil {
		mlog.Fatalf("%s: %v", args[0], err)
	}
}

// runAndClose executes the command and closes the store before reporting
// the result. main exits through mlog.Fatalf on errors, so a deferred
// Close would never run.
func runAndClose(ctx context.Context, db *matchstore.CachedStore, args []string) error {
	err := runCommand(ctx, db, args)
	if cerr := db.Close(); cerr != nil {
		mlog.Errorf("Failed to close store: %v", cerr)
	}
	return err
}

// openStore builds the configured backend, wrapped in a FaultStore when a
// fault rate is set.
func openStore(cfg matchstore.Config) matchstore.Store {
	var store matchstore.Store
	switch cfg.Backend {
	case "memory":
		store = matchstore.NewMemStore()
	case "file":
		store = matchstore.NewFileStore(cfg.FileDir)
	case "redis":
		store = matchstore.NewRedisStore(matchstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			GameTTL:  cfg.RedisGameTTL,
		})
	case "postgres":
		store = matchsql.NewPostgresStore(cfg.PostgresURL)
	case "sqlite":
		store = matchsql.NewSQLiteStore(cfg.SQLitePath)
	case "s3":
		store = matchs3.New(matchs3.Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
	default:
		// Validate rejects unknown backends before we get here.
		mlog.Fatalf("Unknown backend %q", cfg.Backend)
	}
	if cfg.FaultRate > 0 {
		store = matchstore.NewFaultStore(store, cfg.FaultRate)
	}
	return store
}

func runCommand(ctx context.Context, db *matchstore.CachedStore, args []string) error {
	switch args[0] {
	case "ping":
		// Connecting already proved the backend is reachable.
		fmt.Println("ok")
		return nil
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <game-id>")
		}
		state, err := db.Get(ctx, matchstore.GameID(args[1]))
		if err != nil {
			return err
		}
		out, err := json.Marshal(state)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case "set":
		if len(args) < 3 || len(args) > 4 {
			return fmt.Errorf("usage: set <game-id> <state-id> [game-json]")
		}
		stateID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("state-id must be an integer: %v", err)
		}
		var game []byte
		if len(args) == 4 {
			game = []byte(args[3])
		} else if game, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("read game state from stdin: %w", err)
		}
		if len(game) > 0 && !json.Valid(game) {
			return fmt.Errorf("game state must be valid JSON")
		}
		return db.Set(ctx, matchstore.GameID(args[1]), matchstore.GameState{
			StateID: stateID,
			Game:    game,
		})
	case "has":
		if len(args) != 2 {
			return fmt.Errorf("usage: has <game-id>")
		}
		ok, err := db.Has(ctx, matchstore.GameID(args[1]))
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	case "recent":
		limit := 10
		if len(args) == 2 {
			var err error
			if limit, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("n must be an integer: %v", err)
			}
		} else if len(args) > 2 {
			return fmt.Errorf("usage: recent [n]")
		}
		infos, err := db.ListRecent(ctx, limit)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s\tstate %d\t%s\n",
				info.ID, info.StateID, info.Modified.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
