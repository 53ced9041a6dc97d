package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gyre-dev/gyre/internal/journal"
)

// maxListedRuns caps the "gyre journal" listing output.
const maxListedRuns = 50

// runJournal handles the "gyre journal [run_id]" subcommand. Without a
// run ID it lists recorded runs; with one it replays the trace,
// verifying phase ordering, and prints the reconstructed summary.
func runJournal(stdout io.Writer, configPath, outputFmt, runID string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	path := cfg.JournalPath()
	if path == "" {
		return fmt.Errorf("journal is configured as in-memory; nothing persisted to inspect")
	}
	sink, err := journal.NewSQLiteSink(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer sink.Close()

	if runID == "" {
		return listRuns(stdout, sink, outputFmt)
	}
	return replayRun(stdout, sink, outputFmt, runID)
}

func listRuns(w io.Writer, sink *journal.SQLiteSink, outputFmt string) error {
	runs, err := sink.Runs(maxListedRuns)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, id := range runs {
		fmt.Fprintln(w, id)
	}
	return nil
}

func replayRun(w io.Writer, sink *journal.SQLiteSink, outputFmt, runID string) error {
	entries, err := sink.EntriesForRun(runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries for run %s", runID)
	}
	summary, err := journal.Replay(entries)
	if err != nil {
		return fmt.Errorf("trace verification failed: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary *journal.ReplaySummary `json:"summary"`
			Entries []journal.Entry        `json:"entries"`
		}{summary, entries})
	}

	fmt.Fprintf(w, "run %s (agent %s)\n", summary.RunID, summary.AgentID)
	fmt.Fprintf(w, "  reason:       %s\n", summary.Reason)
	fmt.Fprintf(w, "  iterations:   %d\n", summary.Iterations)
	fmt.Fprintf(w, "  tokens:       %d\n", summary.TotalTokens)
	fmt.Fprintf(w, "  observations: %d\n", summary.Observations)
	fmt.Fprintf(w, "  denials:      %d\n", summary.Denials)
	fmt.Fprintln(w)
	for _, e := range entries {
		fmt.Fprintf(w, "%4d  %s  i%d  %s", e.Seq, e.Timestamp.Format("15:04:05.000"), e.Iteration, e.Kind)
		if len(e.Data) > 0 {
			if b, err := json.Marshal(e.Data); err == nil {
				fmt.Fprintf(w, "  %s", b)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "\ntrace verified: phase order intact")
	return nil
}
