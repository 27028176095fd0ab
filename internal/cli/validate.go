package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/envelope"
)

// LineError describes one rejected line of an envelope file.
type LineError struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Lines  int         `json:"lines"`
	Valid  bool        `json:"valid"`
	Errors []LineError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <envelopes.jsonl>",
		Short: "Check an envelope file without applying it",
		Long: `Decode and validate every line of a JSONL envelope file.

Reports lines that are not JSON objects and envelopes the dispatcher
would drop as malformed (missing type, negative sequence, and so on).

Exit codes:
  0 - Every line is a valid envelope
  1 - One or more lines were rejected
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	lines, err := LoadEnvelopes(path)
	if err != nil {
		_ = formatter.Fail(err)
		return WrapExitError(ExitCommandError, "failed to load envelopes", err)
	}

	formatter.VerboseLog("Read %d envelope line(s) from %s", len(lines), path)

	result := ValidationResult{Lines: len(lines)}
	for _, line := range lines {
		if lineErr, ok := checkLine(line); !ok {
			result.Errors = append(result.Errors, lineErr)
		}
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		return outputValidateJSON(cmd, result)
	}
	return outputValidateText(cmd, result)
}

// checkLine applies the checks Dispatcher.Handle runs before dedup.
func checkLine(line envelope.Line) (LineError, bool) {
	err := line.Err
	if err == nil {
		err = envelope.Validate(line.Envelope)
	}
	if err == nil {
		return LineError{}, true
	}

	var vErr *envelope.ValidationError
	if errors.As(err, &vErr) && vErr.Code != envelope.ErrCodeMalformedJSON {
		return LineError{
			Line:    line.Number,
			Code:    ErrCodeInvalidLine,
			Field:   vErr.Field,
			Message: vErr.Error(),
		}, false
	}
	return LineError{Line: line.Number, Code: ErrCodeMalformed, Message: err.Error()}, false
}

func outputValidateJSON(cmd *cobra.Command, result ValidationResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Valid {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeInvalidLine,
			Message: fmt.Sprintf("%d invalid line(s)", len(result.Errors)),
			Details: result.Errors,
		}
	}

	if err := writeResponse(cmd.OutOrStdout(), response); err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid line(s)", len(result.Errors)))
	}
	return nil
}

func outputValidateText(cmd *cobra.Command, result ValidationResult) error {
	w := cmd.OutOrStdout()

	if result.Valid {
		fmt.Fprintf(w, "✓ %d envelope(s) valid\n", result.Lines)
		return nil
	}

	fmt.Fprintf(w, "✗ %d of %d line(s) invalid\n", len(result.Errors), result.Lines)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  line %d [%s]: %s\n", e.Line, e.Code, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d invalid line(s)", len(result.Errors)))
}
