package cmd

import (
	"context"
	"errors"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/locsim/ddfetch/internal/catalog"
	"github.com/locsim/ddfetch/internal/config"
	"github.com/locsim/ddfetch/internal/fetchers"
	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/scheduler"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	supportDir    string
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	workers       int
	debug         bool

	cfg config.Config
)

var DDFetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "ddfetch",
	Short:   "ddfetch downloads DeveloperDiskImages and other device support files",
	Version: DDFetchVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if err := loadConfig(cmd); err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default is config.yaml in the ddfetch config directory)")
	rootCmd.PersistentFlags().StringVarP(&supportDir, "support-dir", "d", "", "Directory holding downloaded support files")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Timeout for connecting and receiving response headers (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 2, "Number of download groups to run in parallel")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) error {
	var err error
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, statErr := os.Stat(path); statErr == nil || configPath != "" {
		if cfg, err = config.LoadFromFile(path); err != nil {
			return err
		}
		log.Debug().Str("op", "cmd/root").Msgf("Loaded config from %s", path)
	} else {
		cfg = config.Default()
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("support-dir") {
		cfg.SupportDir = supportDir
	}
	if flags.Changed("timeout") {
		cfg.HTTP.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		cfg.HTTP.KeepAliveTimeout = kaTimeout
	}
	if flags.Changed("user-agent") {
		cfg.HTTP.UserAgent = userAgent
	}
	if cfg.HTTP.UserAgent == "randomize" {
		cfg.HTTP.UserAgent = utils.GetRandomUserAgent()
	}
	if flags.Changed("proxy") {
		cfg.HTTP.Proxy = proxyURL
	}
	if flags.Changed("proxy-username") {
		cfg.HTTP.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		cfg.HTTP.ProxyPassword = proxyPassword
	}
	// Credentials embedded in the proxy URL fill in missing flags.
	parsedProxy, err := u.Parse(cfg.HTTP.Proxy)
	if err == nil && parsedProxy.User != nil {
		if cfg.HTTP.ProxyUsername == "" {
			cfg.HTTP.ProxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				cfg.HTTP.ProxyPassword = password
			}
		}
		parsedProxy.User = nil
		cfg.HTTP.Proxy = parsedProxy.String()
	}
	if len(headers) > 0 {
		if cfg.HTTP.Headers == nil {
			cfg.HTTP.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			cfg.HTTP.Headers[k] = v
		}
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	return cfg.Validate()
}

func newCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Dir:             catalog.SupportDir{Root: cfg.SupportDir},
		DefinitionsPath: cfg.DefinitionsPath(),
	}
}

// runJobs downloads jobs with the live display until done or interrupted.
// delegates receive every group callback after the display.
func runJobs(jobs []scheduler.Job, delegates ...group.Delegate) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	opts := scheduler.Options{
		Workers:  cfg.Workers,
		Resolver: fetchers.Default(cfg.FetcherOptions()),
		Display:  output.NewManager(os.Stdout),
	}
	if len(delegates) > 0 {
		opts.Delegate = group.Multi(delegates)
	}
	return scheduler.Run(ctx, jobs, opts)
}

// exitOnFailure reports a failed run and exits, returning normally otherwise.
func exitOnFailure(err error) {
	if err == nil {
		return
	}
	log.Debug().Str("op", "cmd/root").Err(err).Msg("Run failed")
	if errors.Is(err, group.ErrCanceled) {
		output.PrintWarning("Interrupted")
	} else {
		output.PrintError("Encountered failed download group(s)")
	}
	os.Exit(1)
}
