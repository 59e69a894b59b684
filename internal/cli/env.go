package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbmahfudi/app-buildify-sub002/internal/app"
	"github.com/tbmahfudi/app-buildify-sub002/internal/config"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. Logs go to w so they
// never mix with command output.
func setupLogging(cfg *config.Config, verbose bool, w io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// openApp loads config, sets up logging and opens the engines. The caller
// must Close the App.
func (o *RootOptions) openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, o.Verbose, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	a, err := app.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return a, nil
}

// actorFlags collects who a command acts as.
type actorFlags struct {
	tenant      string
	user        string
	roles       []string
	permissions []string
}

func (a *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&a.user, "user", "", "Acting user id (required)")
	cmd.Flags().StringSliceVar(&a.roles, "roles", nil, "Role claims of the user")
	cmd.Flags().StringSliceVar(&a.permissions, "permissions", nil, "Permission claims of the user")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
}

func (a *actorFlags) actor() ir.Actor {
	return ir.Actor{
		TenantID:    a.tenant,
		UserID:      a.user,
		Roles:       a.roles,
		Permissions: a.permissions,
	}
}

// parseRecord decodes a --record or --data flag. Empty means no record.
func parseRecord(s string) (ir.Record, error) {
	if s == "" {
		return nil, nil
	}
	var rec ir.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, WrapExitError(ExitCommandError, "record must be a JSON object", err)
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid time %q, want RFC3339", s), err)
	}
	return t.UTC(), nil
}
