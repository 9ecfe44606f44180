package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/auth"
	"github.com/tonimelisma/photoframe-go/internal/config"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/session"
)

// remoteDeleteTimeout bounds the best-effort API call in "session clear".
const remoteDeleteTimeout = 30 * time.Second

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or discard the persisted picker session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the persisted picker session",
		RunE:  runSessionShow,
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the picker session so serve starts a new one",
		Long: `Deletes the persisted picker session, remotely when possible and always
locally. The next serve start opens a fresh picker session.`,
		RunE: runSessionClear,
	}
	clearCmd.Flags().Bool("local", false, "skip the remote delete")
	cmd.AddCommand(clearCmd)

	return cmd
}

func runSessionShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	st := readSessionStatus(cc.Cfg.Paths.DataDir, time.Now(), cc.Logger)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, st)
	}

	if st.ID == "" {
		fmt.Println("No picker session.")
		return nil
	}

	fmt.Printf("ID:      %s\n", st.ID)
	fmt.Printf("State:   %s\n", st.State)
	fmt.Printf("Saved:   %s\n", formatTime(st.SavedAt))

	if !st.ExpiresAt.IsZero() {
		fmt.Printf("Expires: %s (%s)\n", formatTime(st.ExpiresAt), formatAgo(st.ExpiresAt))
	}

	fmt.Printf("Picker:  %s\n", st.PickerURI)

	return nil
}

func runSessionClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if pid, ok := runningPID(cc.Cfg.PIDPath()); ok {
		return fmt.Errorf("serve is running (PID %d): stop it before clearing the session", pid)
	}

	localOnly, err := cmd.Flags().GetBool("local")
	if err != nil {
		return err
	}

	store := session.NewStore(cc.Cfg.Paths.DataDir, cc.Logger)

	rec, err := store.Load()
	if err != nil {
		return err
	}

	if rec == nil {
		cc.Statusf("No picker session.\n")
		return nil
	}

	if !localOnly {
		deleteRemoteSession(cmd.Context(), cc.Cfg, rec.ID, cc.Logger)
	}

	if err := store.Delete(); err != nil {
		return err
	}

	cc.Logger.Info("picker session cleared", slog.String("session_id", rec.ID))
	cc.Statusf("Cleared picker session %s.\n", rec.ID)

	return nil
}

// deleteRemoteSession deletes the session through the API. Failures are
// only logged: the session expires on its own.
func deleteRemoteSession(ctx context.Context, cfg *config.Config, id string, logger *slog.Logger) {
	tokens, err := auth.NewManager(auth.Options{
		CredentialsPath: cfg.Paths.CredentialsFile,
		TokenPath:       cfg.Paths.TokenFile,
		SafetyMargin:    cfg.Auth.SafetyMargin,
	}, logger)
	if err != nil {
		logger.Warn("skipping remote session delete", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, remoteDeleteTimeout)
	defer cancel()

	client := picker.NewClient(cfg.Picker.BaseURL, newHTTPClient(&cfg.Network), tokens, logger, cfg.Network.UserAgent)

	if err := client.DeleteSession(ctx, id); err != nil && !picker.IsGone(err) {
		logger.Warn("remote session delete failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
}
