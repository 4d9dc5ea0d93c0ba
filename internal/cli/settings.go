package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/session"
)

// SettingsResult is the effective configuration with the log paths it
// implies.
type SettingsResult struct {
	Settings config.Settings `json:"settings"`
	Inbound  string          `json:"inbound_log"`
	Outbound string          `json:"outbound_log"`
}

func (r SettingsResult) WriteText(w io.Writer) error {
	data, err := config.Marshal(r.Settings)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "# inbound log: %s\n# outbound log: %s\n", r.Inbound, r.Outbound)
	return err
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate session settings and print the effective values",
		Long: `Load the settings file named by --config over the defaults, validate
it against the settings schema, and print the result.

Exit codes:
  0 - Settings are valid
  1 - Settings failed validation
  2 - Command error (file not found, etc.)

Examples:
  fixlog config --config session.yaml
  fixlog config --config session.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Config == "" {
		return NewExitError(ExitCommandError, "--config is required")
	}
	if _, err := os.Stat(opts.Config); err != nil {
		return WrapExitError(ExitCommandError, "settings file not found", err)
	}

	settings, err := config.Load(opts.Config)
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			_ = formatter.Error("E_SETTINGS", ve.Field+": "+ve.Message, map[string]string{"field": ve.Field})
		}
		return WrapExitError(ExitFailure, "invalid settings", err)
	}

	in, out := session.LogPaths(settings)
	return formatter.Success(SettingsResult{Settings: settings, Inbound: in, Outbound: out})
}
