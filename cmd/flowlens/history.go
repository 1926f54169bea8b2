package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	dbPath := fs.String("db", "", "override the SQLite database path")
	flowName := fs.String("flow", "", "only show runs of this flow")
	limit := fs.Int("limit", 20, "maximum runs to list")
	asJSON := fs.Bool("json", false, "emit JSON instead of a table")
	if err := fs.Parse(args); err != nil {
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

	summaries, err := store.ListRuns(context.Background(), *flowName, *limit)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFLOW\tVERDICT\tCONFIDENCE\tSTARTED\tDURATION\tCOST")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1fs\t$%.4f\n",
			s.ID, s.FlowName, s.Verdict, s.Confidence,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			float64(s.DurationMS)/1000, s.CostUSD)
	}
	return w.Flush()
}
