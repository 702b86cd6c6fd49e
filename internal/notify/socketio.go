package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
)

// SocketIO emits build_status events to a socket.io endpoint, the push
// channel UIs and queue workers subscribe to.
type SocketIO struct {
	url       string
	namespace string
	timeout   time.Duration
}

// NewSocketIO validates the endpoint URL and returns an emitter. The
// namespace defaults to "/" and the connect timeout to 10s when zero.
func NewSocketIO(rawURL, namespace string, timeout time.Duration) (*SocketIO, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid notification URL %q: %w", rawURL, err)
	}
	if namespace == "" {
		namespace = "/"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SocketIO{url: rawURL, namespace: namespace, timeout: timeout}, nil
}

// BuildStatus implements Notifier. Each emission uses a short-lived
// connection: notification volume is low and a persistent socket would
// need its own reconnect lifecycle.
func (s *SocketIO) BuildStatus(ctx context.Context, p Payload) error {
	logger := ctxlog.FromContext(ctx).With("notifier", "socketio", "url", s.url, "buildID", p.BuildID)
	logger.Debug("Emitting build_status notification.")

	parsedURL, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse notification URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(s.namespace, opts)
	defer io.Disconnect()

	done := make(chan error, 1)

	io.On(types.EventName("connect"), func(...any) {
		logger.Debug("Connected, emitting event.", "namespace", s.namespace, "sid", io.Id())
		io.Emit("build_status", p)
		done <- nil
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				done <- e
				return
			}
		}
		done <- fmt.Errorf("socket.io connect error")
	})

	io.Connect()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case <-opCtx.Done():
		return fmt.Errorf("timed out emitting build_status for build %d", p.BuildID)
	case err := <-done:
		return err
	}
}
