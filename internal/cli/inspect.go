package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/fixsession/internal/store"
)

// InspectEntry describes one stored message. Chunk and Position are set
// only for indexed logs.
type InspectEntry struct {
	Seq      uint64  `json:"seq"`
	Length   int     `json:"length"`
	Chunk    *uint32 `json:"chunk,omitempty"`
	Position *uint64 `json:"position,omitempty"`
}

type InspectResult struct {
	Path    string         `json:"path"`
	Type    store.Kind     `json:"type"`
	NextSeq uint64         `json:"next_seq"`
	Entries []InspectEntry `json:"entries"`
}

// WriteText renders the result without the path, so output is stable
// across directories.
func (r InspectResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "type=%s next_seq=%d\n", r.Type, r.NextSeq)
	for _, e := range r.Entries {
		if e.Chunk != nil {
			fmt.Fprintf(w, "seq=%d chunk=%d pos=%d len=%d\n", e.Seq, *e.Chunk, *e.Position, e.Length)
		} else {
			fmt.Fprintf(w, "seq=%d len=%d\n", e.Seq, e.Length)
		}
	}
	p := message.NewPrinter(language.English)
	_, err := p.Fprintf(w, "%d entries\n", len(r.Entries))
	return err
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the messages stored in a log",
		Long: `Open a message log, recover it as a session would, and list every
message from sequence number 1 up to the first gap. Indexed logs also
report the chunk and byte position of each message.

Exit codes:
  0 - Log listed
  2 - Command error (log not found, bad flags, etc.)

Examples:
  fixlog inspect --config session.yaml
  fixlog inspect --config session.yaml --direction out
  fixlog inspect --file ./logs/FIX.4.4-US-THEM.in.log --type sliced-indexed
  fixlog inspect --file ./logs/FIX.4.4-US-THEM.in.log --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}
	addLogFlags(cmd, opts)

	return cmd
}

func runInspect(opts *LogOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	target, err := resolveLog(opts, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	log, next, err := openLog(target)
	if err != nil {
		return err
	}
	defer log.Close()

	formatter.VerboseLog("Opened %s log %s", target.Kind, target.Path)

	result := InspectResult{
		Path:    target.Path,
		Type:    target.Kind,
		NextSeq: next,
		Entries: []InspectEntry{},
	}
	if next > 1 {
		err = log.RetrieveRange(1, next-1, func(seq uint64, msg []byte) {
			result.Entries = append(result.Entries, InspectEntry{Seq: seq, Length: len(msg)})
		}, true)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read log", err)
		}
	}

	if indexed, ok := log.(store.Indexed); ok {
		for i := range result.Entries {
			e := &result.Entries[i]
			loc, found, err := indexed.Lookup(e.Seq)
			if errors.Is(err, store.ErrUnsupported) {
				break
			}
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to look up %d", e.Seq), err)
			}
			if found {
				chunk, pos := loc.ChunkID, loc.Position
				e.Chunk, e.Position = &chunk, &pos
			}
		}
	}

	return formatter.Success(result)
}
