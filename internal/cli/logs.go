package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/store"
)

// LogOptions selects the log a command works on: either one direction of
// the session in --config, or a single file named by --file.
type LogOptions struct {
	*RootOptions
	File       string
	Type       string
	Direction  string
	Timestamps bool
}

func addLogFlags(cmd *cobra.Command, opts *LogOptions) {
	cmd.Flags().StringVar(&opts.File, "file", "", "log file path (overrides --config)")
	cmd.Flags().StringVar(&opts.Type, "type", string(store.KindIndexed), "storage type of --file")
	cmd.Flags().StringVar(&opts.Direction, "direction", "in", "log direction with --config (in|out)")
	cmd.Flags().BoolVar(&opts.Timestamps, "timestamps", true, "records of --file carry a timestamp prefix")
}

// logTarget is a resolved log location.
type logTarget struct {
	Path    string
	Kind    store.Kind
	Options store.Options
}

func resolveLog(opts *LogOptions, logger *slog.Logger) (logTarget, error) {
	if opts.File != "" {
		kind := store.Kind(opts.Type)
		if !slices.Contains(store.Kinds(), kind) {
			return logTarget{}, NewExitError(ExitCommandError,
				fmt.Sprintf("invalid type %q: must be one of %v", opts.Type, store.Kinds()))
		}
		storage := config.Default().Storage
		storage.Timestamps.Enabled = opts.Timestamps
		return logTarget{
			Path:    opts.File,
			Kind:    kind,
			Options: session.StoreOptions(storage, logger),
		}, nil
	}

	if opts.Config == "" {
		return logTarget{}, NewExitError(ExitCommandError, "one of --config or --file is required")
	}
	settings, err := config.Load(opts.Config)
	if err != nil {
		return logTarget{}, WrapExitError(ExitCommandError, "failed to load settings", err)
	}

	in, out := session.LogPaths(settings)
	path := in
	switch opts.Direction {
	case "in":
	case "out":
		path = out
	default:
		return logTarget{}, NewExitError(ExitCommandError,
			fmt.Sprintf("invalid direction %q: must be in or out", opts.Direction))
	}
	return logTarget{
		Path:    path,
		Kind:    store.Kind(settings.Storage.Type),
		Options: session.StoreOptions(settings.Storage, logger),
	}, nil
}

// openLog initializes an existing log and returns it with the next sequence
// number. A missing log is a command error rather than a fresh empty log.
func openLog(t logTarget) (store.MessageLog, uint64, error) {
	if !exists(t.Path) {
		return nil, 0, NewExitError(ExitCommandError, fmt.Sprintf("log not found: %s", t.Path))
	}

	log, err := store.New(t.Kind, t.Path, t.Options)
	if err != nil {
		return nil, 0, WrapExitError(ExitCommandError, "failed to create log", err)
	}
	next, err := log.Initialize()
	if err != nil {
		_ = log.Close()
		return nil, 0, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	return log, next, nil
}

func exists(path string) bool {
	matches, err := filepath.Glob(path + "*")
	return err == nil && len(matches) > 0
}

// nextSeq recovers a log and closes it again. A log that does not exist
// resumes at 1.
func nextSeq(opts *LogOptions, logger *slog.Logger) (uint64, error) {
	target, err := resolveLog(opts, logger)
	if err != nil {
		return 0, err
	}
	if !exists(target.Path) {
		return 1, nil
	}
	log, next, err := openLog(target)
	if err != nil {
		return 0, err
	}
	if err := log.Close(); err != nil {
		return 0, WrapExitError(ExitCommandError, "failed to close log", err)
	}
	return next, nil
}
