package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/arise/pkg/arise"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/aussiebroadwan/arise/pkg/taptopay/simreader"
)

// app holds state shared by every command of one invocation.
type app struct {
	version string

	configPath  string
	baseURL     string
	storeDriver string
	storeDSN    string
	logLevel    string

	cfg    Config
	logger *slog.Logger
}

// NewRootCommand builds the arise command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:   "arise",
		Short: "ARISE SDK command line",
		Long: `arise drives the ARISE SDK against a sandbox backend: authenticate,
inspect tokens and the device identity, and run Tap to Pay flows on a
simulated reader.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration profile")
	flags.StringVar(&a.baseURL, "base-url", "", "backend base URL (overrides ARISE_BASE_URL)")
	flags.StringVar(&a.storeDriver, "store", "", "secure store driver: memory, sqlite or redis")
	flags.StringVar(&a.storeDSN, "store-dsn", "", "sqlite database path")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(a.authCmd())
	root.AddCommand(a.tokenCmd())
	root.AddCommand(a.logoutCmd())
	root.AddCommand(a.deviceCmd())
	root.AddCommand(a.ttpCmd())

	return root
}

// Execute runs the CLI until ctx is cancelled.
func Execute(ctx context.Context, version string) error {
	if err := NewRootCommand(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("store") {
		cfg.Store.Driver = a.storeDriver
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN = a.storeDSN
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}

	a.cfg = cfg
	a.logger = slogx.New(slogx.Config{
		Service: "arise-cli",
		Version: a.version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
	})
	return nil
}

// open builds an SDK without Tap to Pay.
func (a *app) open(ctx context.Context) (*arise.SDK, error) {
	cfg := a.cfg.SDKConfig()
	cfg.Logger = a.logger
	return arise.New(ctx, cfg)
}

// openWithReader builds an SDK driving reader.
func (a *app) openWithReader(ctx context.Context, reader *simreader.Reader) (*arise.SDK, error) {
	cfg := a.cfg.SDKConfig()
	cfg.Logger = a.logger
	cfg.Reader = reader
	return arise.New(ctx, cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
