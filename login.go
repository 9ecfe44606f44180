package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/auth"
	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Photos",
		Long: `Runs the OAuth consent flow in a browser and saves the token file.
Use --no-browser on a headless frame and open the printed URL elsewhere.`,
		RunE: runLogin,
	}

	cmd.Flags().Bool("no-browser", false, "print the consent URL instead of opening a browser")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	noBrowser, err := cmd.Flags().GetBool("no-browser")
	if err != nil {
		return err
	}

	openURL := openBrowser
	if noBrowser {
		openURL = func(string) error { return fmt.Errorf("browser disabled") }
	}

	cc.Logger.Info("login started", "token_file", cc.Cfg.Paths.TokenFile)

	err = auth.Login(cmd.Context(), cc.Cfg.Paths.CredentialsFile, cc.Cfg.Paths.TokenFile, openURL,
		func(url string) {
			// The consent URL must stay visible even with --quiet.
			fmt.Fprintf(os.Stderr, "To authorize, visit:\n\n  %s\n\n", url)
		}, cc.Logger)
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful")
	cc.Statusf("Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if !tokenfile.Exists(cc.Cfg.Paths.TokenFile) {
		cc.Statusf("Not logged in.\n")
		return nil
	}

	if err := tokenfile.Remove(cc.Cfg.Paths.TokenFile); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// openBrowser asks the desktop to open url.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	// Reap the launcher without blocking the login flow.
	go cmd.Wait() //nolint:errcheck // launcher exit status is irrelevant

	return nil
}
