package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/authflow"
	"github.com/mpetrunic88/webrover/internal/browser"
	"github.com/mpetrunic88/webrover/internal/config"
	"github.com/mpetrunic88/webrover/internal/extract"
	"github.com/mpetrunic88/webrover/internal/llmclient"
	"github.com/mpetrunic88/webrover/internal/observability"
	"github.com/mpetrunic88/webrover/internal/orchestrator"
	"github.com/mpetrunic88/webrover/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command; subcommands map onto the orchestrator
// workflows.
var rootCmd = &cobra.Command{
	Use:     "webrover",
	Short:   "WebRover drives a headless browser to navigate, authenticate, and extract web content.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		loaded, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "webrover"})
			return err
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting webrover.", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./webrover.yaml, then ~/.webrover/webrover.yaml)")
	rootCmd.PersistentFlags().Bool("headless", true, "run the browser headless")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	viper.BindPFlag("browser.headless", rootCmd.PersistentFlags().Lookup("headless"))
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initializeConfig layers defaults, an optional config file, and WEBROVER_*
// environment variables.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".webrover"))
		}
		v.SetConfigName("webrover")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBROVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// runtime bundles everything a workflow command needs, with a teardown that
// is safe to call once the command is done.
type runtime struct {
	orch    *orchestrator.Orchestrator
	manager *browser.Manager
	cleanup func()
}

// newRuntime wires the orchestrator from configuration. The language model
// client and the history store are attached only when configured.
func newRuntime(ctx context.Context) (*runtime, error) {
	logger := observability.GetLogger()

	var llm schemas.LLMClient
	if cfg.LLM.APIKey != "" {
		client, err := llmclient.NewGeminiClient(cfg.LLM, logger)
		if err != nil {
			return nil, err
		}
		llm = client
	}

	var history schemas.HistoryStore
	if cfg.Store.Enabled {
		s, err := store.NewPostgresStore(ctx, cfg.Store.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		history = s
	}

	manager := browser.NewManager(cfg.Browser, logger)
	factory := func(ctx context.Context) (schemas.Backend, error) {
		return manager.NewSession(ctx)
	}
	flow := authflow.New(cfg.Network.SettleDelay, cfg.Network.WaitTimeout, logger)
	adapter := extract.NewAdapter(llm, logger)
	fetcher := extract.NewHTTPFetcher(cfg.Network.FetchTimeout, cfg.Extraction.UserAgent, cfg.Network.RatePerHost, logger)

	orch := orchestrator.New(factory, flow, adapter, fetcher, history, cfg, logger)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
		if history != nil {
			history.Close()
		}
		if llm != nil {
			_ = llm.Close()
		}
	}

	return &runtime{orch: orch, manager: manager, cleanup: cleanup}, nil
}
