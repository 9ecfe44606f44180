package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Hub defaults.
const (
	DefaultWriteTimeout = 5 * time.Second
	defaultClientBuffer = 32
	defaultRequestQueue = 64
	shutdownTimeout     = 5 * time.Second
)

// HubOptions configures a Hub.
type HubOptions struct {
	// PhotosDir is served read-only under PhotosPath.
	PhotosDir string

	// WriteTimeout bounds each event write to one client.
	WriteTimeout time.Duration

	// AllowedOrigins are passed to the WebSocket origin check. Empty means
	// same-origin only.
	AllowedOrigins []string
}

type client struct {
	id   string
	send chan Event
}

// Hub fans events out to every connected display and funnels their
// requests into one queue.
type Hub struct {
	opts     HubOptions
	logger   *slog.Logger
	requests chan Request

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a Hub.
func NewHub(opts HubOptions, logger *slog.Logger) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	return &Hub{
		opts:     opts,
		logger:   logger,
		requests: make(chan Request, defaultRequestQueue),
		clients:  make(map[string]*client),
	}
}

// Requests returns the queue of inbound display requests.
func (h *Hub) Requests() <-chan Request {
	return h.requests
}

// ClientCount returns the number of connected displays.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Publish broadcasts ev to every connected display. Delivery is at most
// once: a client whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("display client too slow, dropping event",
				slog.String("client_id", c.id),
				slog.String("event", ev.Type),
			)
		}
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint at /ws
// and cached photos under PhotosPath.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.serveWS)

	if h.opts.PhotosDir != "" {
		mux.Handle("GET "+PhotosPath, http.StripPrefix(PhotosPath, http.FileServer(photoDir(h.opts.PhotosDir))))
	}

	return mux
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("display: listening on %s: %w", addr, err)
	}

	return h.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is canceled.
func (h *Hub) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	h.logger.Info("display server listening", slog.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)

	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("display: serving: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("display server shutdown", slog.String("error", err.Error()))
		}

		return nil
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.AllowedOrigins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	c := &client{id: uuid.NewString(), send: make(chan Event, defaultClientBuffer)}
	h.add(c)
	defer h.remove(c)

	log := h.logger.With(slog.String("client_id", c.id))
	log.Info("display connected", slog.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, c.id, log)
	}()

	err = h.writeLoop(ctx, conn, c)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Debug("display write loop ended", slog.String("error", err.Error()))
	}

	log.Info("display disconnected")
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()

			if err != nil {
				return err
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, log *slog.Logger) {
	for {
		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug("display read failed", slog.String("error", err.Error()))
			}

			return
		}

		if req.Type == "" {
			log.Warn("ignoring display request without type")
			continue
		}

		req.ClientID = clientID

		select {
		case h.requests <- req:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.id)
}
