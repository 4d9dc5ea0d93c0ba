package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NextSeqResult reports the sequence numbers a session would resume with.
// Outbound is omitted for a single --file log.
type NextSeqResult struct {
	Inbound  uint64  `json:"inbound"`
	Outbound *uint64 `json:"outbound,omitempty"`
}

func (r NextSeqResult) WriteText(w io.Writer) error {
	if r.Outbound == nil {
		_, err := fmt.Fprintf(w, "next_seq=%d\n", r.Inbound)
		return err
	}
	_, err := fmt.Fprintf(w, "expected_in=%d next_out=%d\n", r.Inbound, *r.Outbound)
	return err
}

// NewNextSeqCommand creates the next-seq command.
func NewNextSeqCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "next-seq",
		Short: "Report the sequence numbers a session would resume with",
		Long: `Recover the session logs and report the next expected inbound and
next outbound sequence numbers. A log that does not exist yet resumes
at 1.

Examples:
  fixlog next-seq --config session.yaml
  fixlog next-seq --file ./logs/FIX.4.4-US-THEM.in.log --type flat`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNextSeq(opts, cmd)
		},
	}
	addLogFlags(cmd, opts)

	return cmd
}

func runNextSeq(opts *LogOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	if opts.File != "" {
		next, err := nextSeq(opts, logger)
		if err != nil {
			return err
		}
		return formatter.Success(NextSeqResult{Inbound: next})
	}

	var result NextSeqResult
	for _, direction := range []string{"in", "out"} {
		dirOpts := *opts
		dirOpts.Direction = direction
		next, err := nextSeq(&dirOpts, logger)
		if err != nil {
			return err
		}
		if direction == "in" {
			result.Inbound = next
		} else {
			result.Outbound = &next
		}
	}
	return formatter.Success(result)
}
