package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sanehaakhtar/localboard/internal/client"
	"github.com/sanehaakhtar/localboard/internal/config"
	lbnet "github.com/sanehaakhtar/localboard/internal/net"
	"github.com/sanehaakhtar/localboard/internal/observability"
	"github.com/sanehaakhtar/localboard/internal/server"
	"github.com/sanehaakhtar/localboard/internal/state"
)

const appName = "localboard"

var (
	version = "dev"
	debug   bool
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Shared whiteboard for the local network",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.AddCommand(
		buildServeCmd(),
		buildDiscoverCmd(),
		buildJoinCmd(),
		buildExportCmd(),
	)
	return root
}

// cliLogger is used by the client-side commands, which have no config file.
func cliLogger(cmd *cobra.Command) zerolog.Logger {
	level := "info"
	if debug {
		level = "debug"
	}
	return observability.NewLogger(appName, observability.LogConfig{Level: level, Output: cmd.ErrOrStderr()})
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host rooms and advertise them on the LAN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			logger := observability.NewLogger(appName, observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, nil)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config and "+config.EnvAddr+")")
	return cmd
}

// runServe blocks until ctx is cancelled or the listener fails. ready, when
// non-nil, receives the bound address once the server accepts connections.
func runServe(ctx context.Context, cfg config.Config, logger zerolog.Logger, ready chan<- net.Addr) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := state.NewRegistry(logger)
	srv := server.New(cfg.Server, registry, logger, promReg)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	janitor, err := srv.StartJanitor(cfg.Rooms.SweepSchedule, cfg.Rooms.IdleTTL)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if janitor != nil {
		defer func() { <-janitor.Stop().Done() }()
	}

	if cfg.Discovery.Enabled {
		mdnsServer, err := lbnet.Advertise(lbnet.Advertisement{
			Instance: cfg.Discovery.Instance,
			Service:  cfg.Discovery.Service,
			Port:     port,
			Info:     []string{appName, "ws=" + cfg.Server.WSPath, "version=" + version},
		})
		if err != nil {
			logger.Warn().Err(err).Msg("mDNS advertisement unavailable")
		} else {
			defer func() { _ = mdnsServer.Shutdown() }()
			logger.Info().Str("service", cfg.Discovery.Service).Msg("advertising on mDNS")
		}
	}

	share := fmt.Sprintf("%s://%s/<room>", client.Scheme, net.JoinHostPort(lbnet.OutgoingIP(), strconv.Itoa(port)))
	logger.Info().Str("addr", ln.Addr().String()).Str("share", share).Msg("localboard serving")

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	if ready != nil {
		ready <- ln.Addr()
	}
	return g.Wait()
}
