package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Stream  string // optional - only this stream's entries
	Outcome string // optional - only entries with this outcome
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Stream  string          `json:"stream,omitempty"`
	Entries []journal.Entry `json:"entries"`
	Counts  map[string]int  `json:"counts"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show what happened to each envelope",
		Long: `Read the outcome journal written by apply --journal.

Every envelope the dispatcher saw has one row per outcome: applied,
noop, stale, duplicate, malformed, queued, forced, rejected, failed or
forwarded. Counts always cover the whole journal.

Examples:
  eventsync trace --journal ./journal.db
  eventsync trace --journal ./journal.db --stream ses_1
  eventsync trace --journal ./journal.db --outcome rejected --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "filter to one stream")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter to one outcome")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create an empty journal; a typo should fail instead.
	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal))
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var entries []journal.Entry
	if opts.Stream != "" {
		entries, err = j.ByStream(ctx, opts.Stream)
	} else {
		entries, err = j.All(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	counts, err := j.Counts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count outcomes", err)
	}

	result := TraceResult{
		Stream:  opts.Stream,
		Entries: filterOutcome(entries, opts.Outcome),
		Counts:  make(map[string]int, len(counts)),
	}
	for outcome, n := range counts {
		result.Counts[string(outcome)] = n
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func filterOutcome(entries []journal.Entry, outcome string) []journal.Entry {
	filtered := make([]journal.Entry, 0, len(entries))
	for _, e := range entries {
		if outcome == "" || string(e.Outcome) == outcome {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	return writeResponse(cmd.OutOrStdout(), response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if result.Stream != "" {
		fmt.Fprintf(w, "Journal for stream: %s\n", result.Stream)
	}

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	}
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  [%d] %-9s %s %s", e.ID, e.Outcome, e.Type, e.EventID)
		if e.StreamID != "" {
			fmt.Fprintf(w, " %s", e.StreamID)
			if e.Sequence != nil {
				fmt.Fprintf(w, "#%d", *e.Sequence)
			}
		}
		fmt.Fprintln(w)
		if verbose && e.Detail != "" {
			fmt.Fprintf(w, "       %s\n", e.Detail)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Outcomes ===")
	outcomes := make([]string, 0, len(result.Counts))
	for o := range result.Counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-9s %d\n", o+":", result.Counts[o])
	}
	return nil
}
