package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/config"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/session"
	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateInvalid = "invalid"
	tokenStateValid   = "valid"
)

// Session state constants for status reporting.
const (
	sessionStateNone    = "none"
	sessionStateWaiting = "waiting for selection"
	sessionStateReady   = "ready"
	sessionStateExpired = "expired"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token, session, cache and display status",
		Long: `Display the state of the frame from its files on disk: the saved token,
the persisted picker session, the photo cache and the display ledger.
Works whether or not serve is running.`,
		RunE: runStatus,
	}
}

type statusReport struct {
	ConfigPath string        `json:"config_path"`
	Serve      statusServe   `json:"serve"`
	Token      statusToken   `json:"token"`
	Session    statusSession `json:"session"`
	Cache      statusCache   `json:"cache"`
	Ledger     *statusLedger `json:"ledger,omitempty"`
}

type statusServe struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type statusToken struct {
	State   string    `json:"state"`
	SavedAt time.Time `json:"saved_at,omitzero"`
	Expiry  time.Time `json:"expiry,omitzero"`
}

type statusSession struct {
	State     string    `json:"state"`
	ID        string    `json:"id,omitempty"`
	PickerURI string    `json:"picker_uri,omitempty"`
	SavedAt   time.Time `json:"saved_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type statusCache struct {
	Dir    string `json:"dir"`
	Photos int    `json:"photos"`
	Bytes  int64  `json:"bytes"`
}

type statusLedger struct {
	Loads        int               `json:"loads"`
	LoadFailures int               `json:"load_failures"`
	Photos       int               `json:"photos_shown"`
	Batches      int               `json:"batches"`
	LastBatch    *statusBatchEntry `json:"last_batch,omitempty"`
}

type statusBatchEntry struct {
	StartedAt time.Time `json:"started_at"`
	Listed    int       `json:"listed"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Duration  string    `json:"duration"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := buildStatusReport(cmd.Context(), cc.Cfg, cc.CfgPath, time.Now(), cc.Logger)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, report)
	}

	printStatusText(os.Stdout, report)

	return nil
}

// buildStatusReport reads state files without creating any of them.
func buildStatusReport(
	ctx context.Context, cfg *config.Config, cfgPath string, now time.Time, logger *slog.Logger,
) (*statusReport, error) {
	report := &statusReport{
		ConfigPath: cfgPath,
		Token:      readTokenStatus(cfg.Paths.TokenFile, logger),
		Session:    readSessionStatus(cfg.Paths.DataDir, now, logger),
		Cache:      statusCache{Dir: cfg.Paths.CacheDir},
	}

	if pid, ok := runningPID(cfg.PIDPath()); ok {
		report.Serve = statusServe{Running: true, PID: pid}
	}

	count, size, err := mediacache.NewStore(nil, mediacache.Options{Dir: cfg.Paths.CacheDir}, logger).Usage()
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	report.Cache.Photos = count
	report.Cache.Bytes = size

	if _, err := os.Stat(cfg.LedgerPath()); err == nil {
		sum, err := readLedgerSummary(ctx, cfg.LedgerPath(), logger)
		if err != nil {
			return nil, err
		}

		report.Ledger = sum
	}

	return report, nil
}

func readTokenStatus(path string, logger *slog.Logger) statusToken {
	tf, err := tokenfile.Load(path)
	if err != nil {
		logger.Debug("token file unreadable", slog.String("error", err.Error()))
		return statusToken{State: tokenStateInvalid}
	}

	if tf == nil || tf.Token == nil {
		return statusToken{State: tokenStateMissing}
	}

	st := statusToken{State: tokenStateValid, SavedAt: tf.SavedAt, Expiry: tf.Token.Expiry}

	// An expired access token is fine; serve refreshes it. Without a
	// refresh token it cannot.
	if tf.Token.RefreshToken == "" {
		st.State = tokenStateInvalid
	}

	return st
}

func readSessionStatus(dataDir string, now time.Time, logger *slog.Logger) statusSession {
	rec, err := session.NewStore(dataDir, logger).Load()
	if err != nil || rec == nil {
		return statusSession{State: sessionStateNone}
	}

	st := statusSession{
		ID:        rec.ID,
		PickerURI: rec.PickerURI,
		SavedAt:   rec.SavedAt,
		ExpiresAt: rec.ExpireTime,
	}

	switch {
	case rec.ExpiredAt(now):
		st.State = sessionStateExpired
	case rec.MediaItemsSet:
		st.State = sessionStateReady
	default:
		st.State = sessionStateWaiting
	}

	return st
}

func readLedgerSummary(ctx context.Context, path string, logger *slog.Logger) (*statusLedger, error) {
	led, err := ledger.Open(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	defer led.Close()

	sum, err := led.Summary(ctx)
	if err != nil {
		return nil, err
	}

	out := &statusLedger{
		Loads:        sum.Loads,
		LoadFailures: sum.LoadFailures,
		Photos:       sum.Photos,
		Batches:      sum.Batches,
	}

	if b := sum.LastBatch; b != nil {
		out.LastBatch = &statusBatchEntry{
			StartedAt: b.StartedAt,
			Listed:    b.Listed,
			Cached:    b.Cached,
			Failed:    b.Failed,
			Duration:  b.Duration.Round(time.Millisecond).String(),
		}
	}

	return out, nil
}

func printStatusText(w io.Writer, r *statusReport) {
	serve := "stopped"
	if r.Serve.Running {
		serve = fmt.Sprintf("running (PID %d)", r.Serve.PID)
	}

	fmt.Fprintf(w, "Config:  %s\n", r.ConfigPath)
	fmt.Fprintf(w, "Serve:   %s\n", serve)

	fmt.Fprintf(w, "Token:   %s", r.Token.State)
	if !r.Token.SavedAt.IsZero() {
		fmt.Fprintf(w, " (saved %s)", formatAgo(r.Token.SavedAt))
	}

	fmt.Fprintln(w)

	if r.Token.State == tokenStateMissing {
		fmt.Fprintln(w, "         Run 'photoframe-go login' to authorize.")
	}

	fmt.Fprintf(w, "Session: %s\n", r.Session.State)

	if r.Session.ID != "" {
		fmt.Fprintf(w, "  ID:      %s\n", r.Session.ID)
		fmt.Fprintf(w, "  Saved:   %s\n", formatTime(r.Session.SavedAt))

		if !r.Session.ExpiresAt.IsZero() {
			fmt.Fprintf(w, "  Expires: %s\n", formatAgo(r.Session.ExpiresAt))
		}

		if r.Session.State == sessionStateWaiting {
			fmt.Fprintf(w, "  Pick at: %s\n", r.Session.PickerURI)
		}
	}

	fmt.Fprintf(w, "Cache:   %s photos, %s in %s\n",
		formatCount(r.Cache.Photos), formatSize(r.Cache.Bytes), r.Cache.Dir)

	if l := r.Ledger; l != nil {
		fmt.Fprintf(w, "Display: %s loads, %s failures, %s photos shown\n",
			formatCount(l.Loads), formatCount(l.LoadFailures), formatCount(l.Photos))

		if b := l.LastBatch; b != nil {
			fmt.Fprintf(w, "Last download: %s, %s listed, %s cached, %s failed in %s\n",
				formatAgo(b.StartedAt), formatCount(b.Listed), formatCount(b.Cached),
				formatCount(b.Failed), b.Duration)
		}
	}
}
