package realtime

import (
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send when no socket is open. Sends are
// fire-and-forget; callers that rely on delivery must use the REST path.
var ErrNotConnected = errors.New("realtime: not connected")

// TokenSource supplies the bearer token for the socket handshake. An empty
// token means the session is not ready; Connect then returns without dialing.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// StaticToken is a fixed-credential TokenSource.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Config controls a Conn. Zero values fall back to defaults.
type Config struct {
	// URL is the realtime endpoint, e.g. ws://host/ws. The bearer token is
	// appended as a query parameter on every dial.
	URL string

	// MaxReconnectAttempts caps automatic reconnects after a lost
	// connection. Default 5.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	// Default 3s.
	ReconnectDelay time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Logger Logger
}

func (c *Config) withDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[realtime] ", log.LstdFlags)
	}
}

// Conn owns the single realtime socket for a session: authenticated dial,
// bounded reconnection, teardown, and fire-and-forget sends. Inbound frames
// are handed to the Router synchronously in arrival order.
type Conn struct {
	cfg    Config
	tokens TokenSource
	router *Router
	logger Logger

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	gen         uint64 // bumped on every dial/teardown so a stale read loop cannot act
	attempt     int
	intentional bool
	retryTimer  *time.Timer

	writeMu sync.Mutex

	cbMu         sync.Mutex
	onConnect    []func()
	onDisconnect []func()
}

// NewConn creates a connection manager. The router receives every inbound
// frame; registering handlers after NewConn is fine.
func NewConn(cfg Config, tokens TokenSource, router *Router) *Conn {
	cfg.withDefaults()
	return &Conn{
		cfg:    cfg,
		tokens: tokens,
		router: router,
		logger: cfg.Logger,
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected is the boolean projection the UI observes.
func (c *Conn) Connected() bool {
	return c.State() == StateOpen
}

// OnConnect registers a callback fired, in registration order, every time
// the socket opens.
func (c *Conn) OnConnect(f func()) {
	c.cbMu.Lock()
	c.onConnect = append(c.onConnect, f)
	c.cbMu.Unlock()
}

// OnDisconnect registers a callback fired when the socket is lost. It does
// not fire on an explicit Disconnect.
func (c *Conn) OnDisconnect(f func()) {
	c.cbMu.Lock()
	c.onDisconnect = append(c.onDisconnect, f)
	c.cbMu.Unlock()
}

// Connect dials the realtime endpoint. It is idempotent: if the connection
// is already open or in progress it does nothing. Without a token it returns
// nil without dialing; that is "not ready", not an error. Clears any
// intentional-disconnect flag set by Disconnect.
func (c *Conn) Connect() error {
	return c.connect(true)
}

// connect performs the dial. Only an explicit Connect clears the
// intentional-disconnect flag; a timer-driven reconnect observing the flag
// aborts instead, so Disconnect wins no matter how the two interleave.
func (c *Conn) connect(explicit bool) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if explicit {
		c.intentional = false
	} else if c.intentional {
		c.mu.Unlock()
		return nil
	}

	token := c.tokens.Token()
	if token == "" {
		c.logger.Printf("connect skipped: no session token")
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	endpoint, err := dialURL(c.cfg.URL, token)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	ws, _, err := c.cfg.Dialer.Dial(endpoint, nil)
	if err != nil {
		c.logger.Printf("dial %s failed: %v", c.cfg.URL, err)
		c.mu.Lock()
		c.state = StateDisconnected
		intentional := c.intentional
		c.mu.Unlock()
		if !intentional {
			c.scheduleReconnect()
		}
		return err
	}

	c.mu.Lock()
	if c.intentional {
		// Disconnect raced the dial; drop the fresh socket.
		c.state = StateDisconnected
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.state = StateOpen
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.cbMu.Lock()
	connected := make([]func(), len(c.onConnect))
	copy(connected, c.onConnect)
	c.cbMu.Unlock()
	for _, f := range connected {
		f()
	}

	go c.readLoop(ws, gen)
	return nil
}

// Disconnect tears the connection down on purpose: the read loop is detached
// before the socket closes so a late close event cannot schedule a
// reconnect. The intentional flag holds until the next explicit Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.state = StateClosing
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.gen++ // detach any running read loop
	ws := c.ws
	c.ws = nil
	c.attempt = 0
	c.state = StateDisconnected
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// Send serializes {type, ...data} and writes it if the socket is open;
// otherwise the frame is logged and dropped. The socket is a notification
// channel, not the durable path, so there is no outbound queue.
func (c *Conn) Send(eventType string, data map[string]interface{}) error {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || ws == nil {
		c.logger.Printf("dropping %q frame: not connected", eventType)
		return ErrNotConnected
	}

	frame := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		frame[k] = v
	}
	frame["type"] = eventType

	c.writeMu.Lock()
	err := ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Printf("write %q frame failed: %v", eventType, err)
		return err
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.router.Dispatch(data)
	}
}

// handleClose runs when the read loop observes a closed socket. A stale
// generation means Disconnect already detached this loop.
func (c *Conn) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Printf("connection lost: %v", cause)
	}

	c.cbMu.Lock()
	disconnected := make([]func(), len(c.onDisconnect))
	copy(disconnected, c.onDisconnect)
	c.cbMu.Unlock()
	for _, f := range disconnected {
		f()
	}

	c.scheduleReconnect()
}

// scheduleReconnect arms the single retry timer. Once the attempt cap is
// reached it stops silently; the UI just observes "disconnected".
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.intentional {
		return
	}
	if c.attempt >= c.cfg.MaxReconnectAttempts {
		c.logger.Printf("reconnect cap reached (%d attempts), giving up", c.cfg.MaxReconnectAttempts)
		return
	}
	c.attempt++
	attempt := c.attempt
	c.logger.Printf("scheduling reconnect attempt %d/%d in %s", attempt, c.cfg.MaxReconnectAttempts, c.cfg.ReconnectDelay)

	c.retryTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		// Stop() misses a timer whose callback already fired; connect
		// re-checks the intentional flag so that case stays a no-op.
		c.mu.Lock()
		c.retryTimer = nil
		c.mu.Unlock()
		if err := c.connect(false); err != nil {
			c.logger.Printf("reconnect attempt %d failed: %v", attempt, err)
		}
	})
}

func dialURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
