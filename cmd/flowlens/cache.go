package main

import (
	"context"
	"flag"
	"fmt"
)

func cmdCache(args []string) error {
	if len(args) == 0 {
		return withExitCode(fmt.Errorf("cache requires a subcommand: purge or stats"), 2)
	}
	sub := args[0]

	fs := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	dbPath := fs.String("db", "", "override the SQLite database path")
	if err := fs.Parse(args[1:]); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, *dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	switch sub {
	case "purge":
		purged, err := store.PurgeExpiredVisionResults(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired entries\n", purged)
		return nil
	case "stats":
		stats, err := store.GetVisionCacheStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("entries: %d (expired: %d)\n", stats.Entries, stats.Expired)
		fmt.Printf("total hits: %d\n", stats.TotalHits)
		return nil
	default:
		return withExitCode(fmt.Errorf("unknown cache subcommand %q", sub), 2)
	}
}
