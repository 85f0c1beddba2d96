package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/agent"
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/control"
	"github.com/interceptd/interceptd/pkg/coordinator"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mockrule"
)

var (
	serveConfigFile string
	serveListen     string
	serveMode       string
	serveProxy      string
	serveRulesFile  string
	serveLogLevel   string
	serveLogFormat  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flow coordinator and control server",
	Long: `Run the interception session: the flow coordinator, the control API,
and optionally the wire-level proxy.

Configuration is read from defaults, then the config file, then
INTERCEPTD_* environment variables. Flags override everything.`,
	Example: `  # Record everything through the proxy on :8080
  interceptd serve --proxy-listen 127.0.0.1:8080

  # Pause every flow until resumed
  interceptd serve --mode debug

  # Answer from a rule collection
  interceptd serve --mode mock --rules rules.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Config file path")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Control server listen address")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Session mode: recording, debug or mock")
	serveCmd.Flags().StringVar(&serveProxy, "proxy-listen", "", "Forward proxy listen address (empty = no proxy)")
	serveCmd.Flags().StringVar(&serveRulesFile, "rules", "", "YAML rule collection to preload")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format: text or json")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	mode, err := coordinator.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	coord := coordinator.New(
		coordinator.WithLogger(log),
		coordinator.WithMode(mode),
		coordinator.WithDebugTimeout(cfg.DebugTimeout),
	)

	if cfg.RulesFile != "" {
		col, err := mockrule.LoadFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		imported, errs := coord.Rules().Import(col.Rules, false)
		for _, e := range errs {
			log.Warn("rule skipped on import", "error", e)
		}
		log.Info("rules loaded", "file", cfg.RulesFile, "count", imported)
	}

	coord.Start()

	srv := control.NewServer(coord,
		control.WithServerLogger(log),
		control.WithAddr(cfg.Listen),
	)
	if err := srv.Start(); err != nil {
		coord.Stop()
		return err
	}

	var proxySrv *http.Server
	if cfg.ProxyListen != "" {
		client := control.NewClient("http://"+srv.Addr(), control.WithClientLogger(log))
		proxy := agent.NewProxy(client,
			agent.WithProxyLogger(log),
			agent.WithProxyMaxBodySize(cfg.MaxBodySize),
			agent.WithProxyFilter(&agent.Filter{
				IncludeHosts: cfg.Filter.IncludeHosts,
				ExcludeHosts: cfg.Filter.ExcludeHosts,
				IncludePaths: cfg.Filter.IncludePaths,
				ExcludePaths: cfg.Filter.ExcludePaths,
			}),
			agent.WithProxyMockLookahead(mode == coordinator.ModeMock),
		)
		proxySrv = &http.Server{
			Addr:        cfg.ProxyListen,
			Handler:     proxy,
			ReadTimeout: 30 * time.Second,
		}
		go func() {
			log.Info("proxy listening", "addr", cfg.ProxyListen)
			if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("proxy stopped", "error", err)
			}
		}()
	}

	log.Info("session ready", "mode", cfg.Mode, "control", srv.Addr())

	// Wait for shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	// Order matters: releasing paused flows first unblocks any submission
	// still held open by the control server.
	coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if proxySrv != nil {
		_ = proxySrv.Shutdown(ctx)
	}
	return srv.Stop(ctx)
}

func applyServeFlags(cfg *config.Config) {
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveMode != "" {
		cfg.Mode = serveMode
	}
	if serveProxy != "" {
		cfg.ProxyListen = serveProxy
	}
	if serveRulesFile != "" {
		cfg.RulesFile = serveRulesFile
	}
	if serveLogLevel != "" {
		cfg.Log.Level = serveLogLevel
	}
	if serveLogFormat != "" {
		cfg.Log.Format = serveLogFormat
	}
}
