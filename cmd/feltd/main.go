// feltd is the poker table server. It terminates player WebSockets,
// runs one actor goroutine per table, and persists checkpoints, wallet
// balances, and hand histories under its data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/feltpoker/felt/internal/auth"
	"github.com/feltpoker/felt/internal/config"
	"github.com/feltpoker/felt/internal/gateway"
	"github.com/feltpoker/felt/internal/history"
	"github.com/feltpoker/felt/internal/registry"
	"github.com/feltpoker/felt/internal/store"
	"github.com/feltpoker/felt/internal/table"
	"github.com/feltpoker/felt/internal/wallet"
)

var CLI struct {
	Config   string `short:"c" long:"config" default:"feltd.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" long:"addr" help:"Listen address (overrides config)"`
	LogLevel string `short:"l" long:"log-level" help:"Log level (overrides config)"`
	DataDir  string `short:"d" long:"data-dir" help:"Data directory (overrides config)"`
	Faucet   int64  `long:"faucet" help:"Dev faucet: credit this many chips to broke players on first buy-in"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		kctx.Exit(1)
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.DataDir != "" {
		cfg.Server.DataDir = CLI.DataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		kctx.Exit(1)
	}
	listenAddr := cfg.ServerAddress()
	if CLI.Addr != "" {
		listenAddr = CLI.Addr
	}

	logger := log.New(os.Stderr)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	if err := run(cfg, listenAddr, logger); err != nil {
		logger.Error("server failed", "error", err)
		kctx.Exit(1)
	}
}

func run(cfg *config.Config, listenAddr string, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.Server.DataDir, "felt.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sqlWallet, err := wallet.NewSQL(st.DB(), uuid.NewString)
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	var escrow table.Escrow = sqlWallet
	if CLI.Faucet > 0 {
		logger.Warn("dev faucet enabled", "grant", CLI.Faucet)
		escrow = wallet.NewFaucet(sqlWallet, CLI.Faucet)
	}

	sink, err := history.NewFileSink(filepath.Join(cfg.Server.DataDir, "hands"))
	if err != nil {
		return fmt.Errorf("open hand history: %w", err)
	}
	defer sink.Close()

	var validator auth.Validator
	switch cfg.Auth.Mode {
	case "http":
		validator = auth.NewHTTPValidator(cfg.Auth.URL, cfg.Auth.AdminSecret)
	case "static":
		validator, err = auth.NewStaticValidator(cfg.Auth.Tokens)
		if err != nil {
			return err
		}
	default:
		logger.Warn("open auth mode, any token is accepted")
		validator = auth.NewOpenValidator()
	}

	gw := gateway.New(gateway.Options{
		Logger:    logger,
		Validator: validator,
		Metrics:   gateway.NewMetrics(prometheus.DefaultRegisterer),
	})
	reg := registry.New(registry.Options{
		Logger:      logger,
		Broadcaster: gw,
		Store:       st,
		Escrow:      escrow,
		History:     sink,
		MaxTables:   cfg.Server.MaxTables,
	})
	gw.SetRegistry(reg)

	if err := reg.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate tables: %w", err)
	}

	// Configured tables that survived a restart are already rehydrated;
	// match by name so each boot does not mint duplicates.
	existing := make(map[string]bool)
	for _, s := range reg.List(registry.Filter{}) {
		existing[s.Name] = true
	}
	for _, block := range cfg.Tables {
		if existing[block.Name] {
			continue
		}
		tbl, err := reg.Create(ctx, block.TableConfig())
		if err != nil {
			return fmt.Errorf("create table %s: %w", block.Name, err)
		}
		logger.Info("table created from config", "table", tbl.ID(), "name", block.Name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reg.Janitor(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		gw.Shutdown()
		reg.Shutdown()
		return err
	})
	return g.Wait()
}
