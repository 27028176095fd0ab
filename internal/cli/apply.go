package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/dispatch"
	"github.com/roach88/eventsync/internal/journal"
	"github.com/roach88/eventsync/internal/state"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Journal string // overrides journal.path from config
	Flush   bool   // release held envelopes once input ends
}

// ApplyResult summarises one apply run.
type ApplyResult struct {
	Lines     int            `json:"lines"`
	Malformed int            `json:"malformed"`
	Sessions  int            `json:"sessions"`
	Messages  int            `json:"messages"`
	Parts     int            `json:"parts"`
	Flushed   int            `json:"flushed"`
	Stats     dispatch.Stats `json:"stats"`
	Snapshot  state.Snapshot `json:"snapshot"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <envelopes.jsonl>",
		Short: "Apply an envelope log to an empty store",
		Long: `Feed a JSONL file of server envelopes through the dispatcher.

Envelopes are deduplicated, ordered per stream and applied to an
in-memory store. Each stream is handled in file order; distinct streams
run concurrently up to pump.max_concurrent.

When input ends, envelopes still held behind a sequence gap are
force-released unless --flush=false.

Examples:
  eventsync apply ./events.jsonl
  eventsync apply ./events.jsonl --journal ./journal.db
  eventsync apply ./events.jsonl --format json --config ./eventsync.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides config)")
	cmd.Flags().BoolVar(&opts.Flush, "flush", true, "force-release envelopes held behind gaps at end of input")

	return cmd
}

func runApply(ctx context.Context, opts *ApplyOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	lines, err := LoadEnvelopes(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load envelopes", err)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithConfig(cfg),
		dispatch.WithLogger(logger),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		dispatchOpts = append(dispatchOpts, dispatch.WithJournal(j))
	}

	st := state.New(state.WithLogger(logger))
	d := dispatch.New(st, dispatchOpts...)
	defer d.Close()

	result := ApplyResult{Lines: len(lines)}
	streams := make(map[string]struct{})

	pump := dispatch.NewPump(d, cfg.Pump.MaxConcurrent, dispatch.WithLaneSize(len(lines)+1))
	pump.Start(ctx)
	for _, line := range lines {
		if line.Err != nil {
			result.Malformed++
			logger.Warn("skipping malformed line", "line", line.Number, "error", line.Err)
			continue
		}
		if line.Envelope.StreamID != "" {
			streams[line.Envelope.StreamID] = struct{}{}
		}
		if err := pump.Submit(line.Envelope); err != nil {
			pump.Stop()
			return WrapExitError(ExitCommandError, "failed to submit envelope", err)
		}
	}
	pump.Stop()

	if opts.Flush {
		ids := make([]string, 0, len(streams))
		for id := range streams {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			result.Flushed += d.Flush(ctx, id)
		}
	}

	result.Sessions, result.Messages, result.Parts = st.Counts()
	result.Stats = d.Stats()
	result.Snapshot = st.Snapshot()

	if opts.Format == "json" {
		return outputApplyJSON(cmd, result)
	}
	return outputApplyText(cmd, cfg, result)
}

func outputApplyJSON(cmd *cobra.Command, result ApplyResult) error {
	return writeResponse(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
}

func outputApplyText(cmd *cobra.Command, cfg config.Config, result ApplyResult) error {
	w := cmd.OutOrStdout()
	s := result.Stats

	fmt.Fprintf(w, "✓ Applied %d line(s)", result.Lines)
	if result.Malformed > 0 {
		fmt.Fprintf(w, " (%d malformed)", result.Malformed)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Store: %d session(s), %d message(s), %d part(s)\n", result.Sessions, result.Messages, result.Parts)
	fmt.Fprintf(w, "  Outcomes: applied=%d noop=%d stale=%d duplicate=%d rejected=%d failed=%d\n",
		s.Applied, s.Noops, s.Stale, s.Duplicates, s.Rejected, s.Failed)
	fmt.Fprintf(w, "  Ordering: queued=%d forced=%d flushed=%d\n", s.Queued, s.Forced, result.Flushed)
	if s.Forwarded > 0 {
		fmt.Fprintf(w, "  Forwarded: %d\n", s.Forwarded)
	}
	if cfg.Journal.Path != "" {
		fmt.Fprintf(w, "  Journal: %s\n", cfg.Journal.Path)
	}
	return nil
}
