package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/auth"
	"github.com/tonimelisma/photoframe-go/internal/config"
	"github.com/tonimelisma/photoframe-go/internal/display"
	"github.com/tonimelisma/photoframe-go/internal/frame"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/rotation"
	"github.com/tonimelisma/photoframe-go/internal/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the photo frame backend",
		Long: `Runs the slideshow backend: restores cached photos, drives the picker
session, refreshes downloads every refresh.interval and serves the display
over WebSocket. Stops on SIGINT or SIGTERM.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "display listen address (overrides display.listen_addr)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	cleanup, err := writePIDFile(cfg.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger, serveComponents...)

	svc, closeFn, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("serve started",
		slog.String("listen_addr", cfg.Display.ListenAddr),
		slog.String("cache_dir", cfg.Paths.CacheDir),
		slog.String("version", version),
	)

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("serve stopped")

	return nil
}

// buildService assembles the frame service from the resolved config. The
// returned function closes the ledger.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*frame.Service, func(), error) {
	order, err := rotation.ParseOrder(cfg.Display.Sort)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := auth.NewManager(auth.Options{
		CredentialsPath: cfg.Paths.CredentialsFile,
		TokenPath:       cfg.Paths.TokenFile,
		SafetyMargin:    cfg.Auth.SafetyMargin,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	client := picker.NewClient(cfg.Picker.BaseURL, newHTTPClient(&cfg.Network), tokens, logger, cfg.Network.UserAgent)

	sessions := session.NewController(client, session.NewStore(cfg.Paths.DataDir, logger), session.Options{
		MaxAge:              cfg.Picker.MaxSessionAge,
		DefaultPollInterval: cfg.Picker.PollInterval,
		MaxPolls:            cfg.Picker.MaxPolls,
	}, logger)

	cache := mediacache.NewStore(client, mediacache.Options{
		Dir:        cfg.Paths.CacheDir,
		ShowWidth:  cfg.Display.ShowWidth,
		ShowHeight: cfg.Display.ShowHeight,
		Parallel:   cfg.Cache.ParallelDownloads,
	}, logger)

	led, err := ledger.Open(ctx, cfg.LedgerPath(), logger)
	if err != nil {
		return nil, nil, err
	}

	hub := display.NewHub(display.HubOptions{
		PhotosDir:      cfg.Paths.CacheDir,
		AllowedOrigins: cfg.Display.AllowedOrigins,
	}, logger)

	svc := frame.NewService(frame.Options{
		Order:          order,
		RetainSession:  cfg.Picker.RetainSession,
		UpdateInterval: cfg.Display.UpdateInterval,
		RefillWindow:   cfg.Display.RefillWindow,
		InitRetry:      cfg.Refresh.InitRetry,
		RefreshEvery:   cfg.Refresh.Interval,
	}, frame.Deps{
		Sessions: sessions,
		Cache:    cache,
		Tokens:   tokens,
		Ledger:   led,
		Hub:      hub,
		Serve: func(ctx context.Context) error {
			return hub.Serve(ctx, cfg.Display.ListenAddr)
		},
	}, logger)

	closeFn := func() {
		if err := led.Close(); err != nil {
			logger.Warn("closing ledger failed", slog.String("error", err.Error()))
		}
	}

	return svc, closeFn, nil
}

// newHTTPClient builds the API client. There is no overall request timeout
// because photo downloads can be large; instead the connect phase and each
// wait for response headers are bounded.
func newHTTPClient(n *config.NetworkConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   n.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = n.ConnectTimeout
	transport.ResponseHeaderTimeout = n.DataTimeout

	return &http.Client{Transport: transport}
}
