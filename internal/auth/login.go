package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackShutdownTimeout is how long to wait for the loopback server to drain.
const callbackShutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the handler.
type callbackResult struct {
	code string
	err  error
}

// Login performs the one-time installed-app bootstrap: authorization code +
// PKCE against a loopback redirect, then writes the token file. openURL is
// given the consent URL; when it fails the URL is passed to printURL so the
// operator can open it on another device.
func Login(
	ctx context.Context,
	credentialsPath, tokenPath string,
	openURL func(string) error,
	printURL func(string),
	logger *slog.Logger,
) error {
	if credentialsPath == "" || tokenPath == "" {
		return fmt.Errorf("%w: credentials_file and token_file are required", ErrConfig)
	}

	cfg, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return err
	}

	return doLogin(ctx, cfg, tokenPath, openURL, printURL, logger)
}

// doLogin runs the flow with a pre-built config so tests can point it at a
// mock authorization server.
func doLogin(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	printURL func(string),
	logger *slog.Logger,
) error {
	logger.Info("starting authorization code flow", slog.String("token_path", tokenPath))

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("auth: generating state token: %w", err)
	}

	lb, err := listenLoopback(ctx, state, logger)
	if err != nil {
		return err
	}
	defer lb.close(logger)

	cfg.RedirectURL = lb.redirectURL()
	verifier := oauth2.GenerateVerifier()

	// ApprovalForce makes Google issue a refresh token even when the user
	// consented before.
	consentURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	if openErr := openURL(consentURL); openErr != nil {
		logger.Warn("failed to open browser", slog.String("error", openErr.Error()))
		printURL(consentURL)
	}

	code, err := lb.wait(ctx)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("auth: token exchange failed: %w", err)
	}

	if tok.RefreshToken == "" {
		return fmt.Errorf("auth: token endpoint returned no refresh token")
	}

	if err := tokenfile.Save(tokenPath, tok); err != nil {
		return fmt.Errorf("auth: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("token_path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// loopback is the local HTTP server receiving the OAuth2 redirect.
type loopback struct {
	srv     *http.Server
	port    int
	results chan callbackResult
}

// listenLoopback binds 127.0.0.1 on a random port. Google accepts any port
// for installed-app loopback redirects.
func listenLoopback(ctx context.Context, state string, logger *slog.Logger) (*loopback, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("auth: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, fmt.Errorf("auth: listener address is not TCP")
	}

	lb := &loopback{
		port:    tcpAddr.Port,
		results: make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		lb.deliver(handleCallback(w, r, state))
	})

	lb.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackShutdownTimeout,
	}

	go func() {
		if serveErr := lb.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			lb.deliver(callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)})
		}
	}()

	logger.Info("callback server listening", slog.Int("port", lb.port))

	return lb, nil
}

func (lb *loopback) redirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", lb.port)
}

// deliver records the first result; later ones (favicon requests, retries)
// are dropped.
func (lb *loopback) deliver(res callbackResult) {
	select {
	case lb.results <- res:
	default:
	}
}

func (lb *loopback) wait(ctx context.Context) (string, error) {
	select {
	case res := <-lb.results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("auth: login canceled: %w", ctx.Err())
	}
}

func (lb *loopback) close(logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	if err := lb.srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// handleCallback validates state, extracts the code and answers the browser.
func handleCallback(w http.ResponseWriter, r *http.Request, state string) callbackResult {
	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return callbackResult{err: fmt.Errorf("auth: OAuth2 state mismatch")}
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		return callbackResult{err: fmt.Errorf("auth: authorization failed: %s", errParam)}
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return callbackResult{err: fmt.Errorf("auth: callback missing authorization code")}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Photo frame authorized</h1>"+
		"<p>You can close this window.</p></body></html>")

	return callbackResult{code: code}
}

// generateState produces a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
