// Command flowlens runs browser UX verification flows.
package main

import (
	"fmt"
	"os"

	"github.com/flowlens/flowlens/pkg/config"
	"github.com/flowlens/flowlens/pkg/storage"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = cmdRun(args[1:])
	case "history":
		err = cmdHistory(args[1:])
	case "cache":
		err = cmdCache(args[1:])
	case "version", "--version":
		fmt.Println("flowlens " + version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "flowlens: unknown command %q\n\n", args[0])
		usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCodeForError(err)
}

func usage() {
	fmt.Fprint(os.Stderr, `flowlens - browser UX verification

Usage:
  flowlens run [flags] <flow.yaml> [flow.yaml...]   execute flows
  flowlens history [flags]                          list persisted runs
  flowlens cache purge|stats [flags]                manage the vision cache
  flowlens version                                  print version

Run 'flowlens <command> -h' for command flags.
`)
}

// loadConfig resolves the config file, reporting failures as exit code 2.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	return cfg, nil
}

// openStore opens the SQLite store, honoring a --db override.
func openStore(cfg *config.Config, dbOverride string) (*storage.Store, error) {
	path := cfg.Storage.Path
	if dbOverride != "" {
		path = dbOverride
	}
	store, err := storage.New(path)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("open storage: %w", err), 2)
	}
	return store, nil
}
