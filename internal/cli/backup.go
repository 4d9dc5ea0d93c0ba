package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fixsession/internal/store"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	LogOptions
	Delete bool
}

type BackupResult struct {
	Mode  store.CleanupMode `json:"mode"`
	Paths []string          `json:"paths"`
}

func (r BackupResult) WriteText(w io.Writer) error {
	verb := "backed up"
	if r.Mode == store.CleanupDelete {
		verb = "deleted"
	}
	for _, p := range r.Paths {
		if _, err := fmt.Fprintf(w, "%s %s\n", verb, p); err != nil {
			return err
		}
	}
	return nil
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{LogOptions: LogOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Move session logs aside so the session starts from 1",
		Long: `Close the session logs and move their files to the backup location
with a timestamp suffix, or delete them with --delete. With --config both
directions are handled; backups go to storage.backup_dir when set.

Examples:
  fixlog backup --config session.yaml
  fixlog backup --config session.yaml --delete
  fixlog backup --file ./logs/FIX.4.4-US-THEM.in.log --type sliced`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(opts, cmd)
		},
	}
	addLogFlags(cmd, &opts.LogOptions)
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the files instead of backing them up")

	return cmd
}

func runBackup(opts *BackupOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	mode := store.CleanupBackup
	if opts.Delete {
		mode = store.CleanupDelete
	}
	result := BackupResult{Mode: mode, Paths: []string{}}

	directions := []string{"in", "out"}
	if opts.File != "" {
		directions = []string{opts.Direction}
	}
	for _, direction := range directions {
		dirOpts := opts.LogOptions
		dirOpts.Direction = direction
		path, err := backupOne(&dirOpts, mode, logger)
		if err != nil {
			return err
		}
		if path != "" {
			formatter.VerboseLog("Cleaned up %s (%s)", path, mode)
			result.Paths = append(result.Paths, path)
		}
	}
	return formatter.Success(result)
}

// backupOne returns the cleaned path, or "" if the log did not exist.
func backupOne(opts *LogOptions, mode store.CleanupMode, logger *slog.Logger) (string, error) {
	target, err := resolveLog(opts, logger)
	if err != nil {
		return "", err
	}
	if !exists(target.Path) {
		return "", nil
	}
	log, _, err := openLog(target)
	if err != nil {
		return "", err
	}
	if err := log.BackupOrDelete(mode); err != nil {
		_ = log.Close()
		return "", WrapExitError(ExitFailure, fmt.Sprintf("failed to clean up %s", target.Path), err)
	}
	if err := log.Close(); err != nil {
		return "", WrapExitError(ExitFailure, fmt.Sprintf("failed to close %s", target.Path), err)
	}
	return target.Path, nil
}
