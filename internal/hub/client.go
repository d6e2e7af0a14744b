package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// Framing constants.
const (
	// maxFrameSize bounds a single JSON line from the hub. Full inventory
	// responses for large installations stay well under this.
	maxFrameSize = 4 * 1024 * 1024

	// initialScanBuffer is the starting read buffer size.
	initialScanBuffer = 64 * 1024

	// pushQueueSize bounds buffered push updates between the read loop and
	// NextStateUpdate. Overflow drops the newest update; the periodic full
	// refresh repairs any gap.
	pushQueueSize = 64
)

// Wire operation names.
const (
	opLogin    = "login"
	opDiscover = "eps"
	opDevice   = "ep"
	opSetState = "epset"
	opSendKeys = "sendkeys"
	opPush     = "io"
)

// API is the capability set the rest of the service needs from a hub
// connection. *Client implements it; tests substitute fakes.
type API interface {
	DiscoverDevices(ctx context.Context) (*Snapshot, error)
	DiscoverDevicesByID(ctx context.Context, deviceID string) (*Snapshot, error)
	NextStateUpdate(ctx context.Context) (*StateUpdate, error)
	SetDeviceState(ctx context.Context, deviceID, channel string, args map[string]any) error
	SendKeys(ctx context.Context, deviceID, category, brand string, keys []string) error
	ResetConnection()
	IsConnected() bool
}

// frame is one newline-delimited JSON message on the wire, in either
// direction. Request/response frames carry a correlation id in sn; push
// frames from the hub have no sn.
type frame struct {
	SN   string          `json:"sn,omitempty"`
	Op   string          `json:"op,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
	Code *int            `json:"code,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// result is what a pending request receives: the response frame or the
// error that killed the connection.
type result struct {
	f   frame
	err error
}

// Client is a hub connection speaking the newline-delimited JSON protocol.
//
// A single TCP connection carries all traffic. A background read loop
// routes response frames to their waiting requests by correlation id and
// queues push frames for NextStateUpdate. The connection is established
// lazily on first use and re-established after ResetConnection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	addr  string
	model string
	token string

	connectTimeout time.Duration
	requestTimeout time.Duration

	mu     sync.Mutex // guards conn, lostCh, closed, info
	conn   net.Conn
	lostCh chan struct{}
	closed bool
	info   Info

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan result

	pushCh  chan StateUpdate
	dropped atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

var _ API = (*Client)(nil)

// New creates a hub client from configuration. No connection is made
// until the first operation or an explicit Connect.
func New(cfg config.HubConfig) *Client {
	return &Client{
		addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		model:          cfg.Model,
		token:          cfg.Token,
		connectTimeout: cfg.GetConnectTimeout(),
		requestTimeout: cfg.GetRequestTimeout(),
		pending:        make(map[string]chan result),
		pushCh:         make(chan StateUpdate, pushQueueSize),
	}
}

// Connect dials the hub and performs the login handshake. Calling it on
// an already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	return c.ensureConnected(ctx)
}

// DiscoverDevices requests the full device inventory.
func (c *Client) DiscoverDevices(ctx context.Context) (*Snapshot, error) {
	msg, err := c.request(ctx, opDiscover, nil)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(msg)
}

// DiscoverDevicesByID requests the state of a single device. The response
// has the same shape as a full inventory with at most one entry; an
// unknown id yields an empty snapshot.
func (c *Client) DiscoverDevicesByID(ctx context.Context, deviceID string) (*Snapshot, error) {
	msg, err := c.request(ctx, opDevice, map[string]any{"me": deviceID})
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(msg)
}

// NextStateUpdate blocks until the hub pushes a channel change, the
// context ends, or the connection drops.
func (c *Client) NextStateUpdate(ctx context.Context) (*StateUpdate, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	lost := c.lostCh
	c.mu.Unlock()
	if lost == nil {
		return nil, ErrConnectionLost
	}

	select {
	case update := <-c.pushCh:
		return &update, nil
	case <-lost:
		return nil, ErrConnectionLost
	case <-ctx.Done():
		return nil, mapContextErr(ctx.Err())
	}
}

// SetDeviceState sends a state change command for one channel of a device.
func (c *Client) SetDeviceState(ctx context.Context, deviceID, channel string, args map[string]any) error {
	payload := map[string]any{"me": deviceID, "idx": channel, "args": args}
	_, err := c.request(ctx, opSetState, payload)
	return err
}

// SendKeys sends an infrared key sequence through a remote-control device.
func (c *Client) SendKeys(ctx context.Context, deviceID, category, brand string, keys []string) error {
	payload := map[string]any{
		"me":       deviceID,
		"category": category,
		"brand":    brand,
		"keys":     keys,
	}
	_, err := c.request(ctx, opSendKeys, payload)
	return err
}

// ResetConnection tears down the current connection so the next operation
// starts from a clean dial. Pending requests fail with ErrConnectionLost.
// Safe to call while disconnected.
func (c *Client) ResetConnection() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.teardown(conn, ErrConnectionLost)
	}
}

// IsConnected reports whether a live connection exists.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Info returns the hub identity reported during the last login handshake.
func (c *Client) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// DroppedUpdates returns the number of push updates discarded because the
// queue was full.
func (c *Client) DroppedUpdates() uint64 {
	return c.dropped.Load()
}

// Close shuts the client down permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.teardown(conn, ErrClosed)
	}
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// ensureConnected dials and logs in if no connection exists. The login
// handshake happens synchronously on the raw connection before the read
// loop starts, so no other traffic can interleave with it.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	info, err := c.login(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.info = info
	c.lostCh = make(chan struct{})

	go c.readLoop(conn)

	c.logDebug("hub connected", "addr", c.addr, "model", info.Model)
	return nil
}

// login performs the authentication handshake on a fresh connection.
func (c *Client) login(conn net.Conn) (Info, error) {
	args, err := json.Marshal(map[string]string{"model": c.model, "token": c.token})
	if err != nil {
		return Info{}, fmt.Errorf("encoding login: %w", err)
	}

	req := frame{SN: uuid.NewString(), Op: opLogin, Args: args}
	line, err := json.Marshal(req)
	if err != nil {
		return Info{}, fmt.Errorf("encoding login: %w", err)
	}

	deadline := time.Now().Add(c.connectTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Read exactly one line without buffering past it, so frames the hub
	// sends immediately after the ack are left for the read loop.
	respLine, err := readLine(conn, maxFrameSize)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var resp frame
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return Info{}, fmt.Errorf("%w: login response: %w", ErrMalformed, err)
	}
	if resp.Code != nil && *resp.Code != 0 {
		return Info{}, fmt.Errorf("%w: login code %d", ErrConnectionFailed, *resp.Code)
	}

	var info Info
	if len(resp.Msg) > 0 {
		// Identity details are informational; ignore decode failures.
		_ = json.Unmarshal(resp.Msg, &info)
	}
	if info.Model == "" {
		info.Model = c.model
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return info, nil
}

// request sends one frame and waits for the matching response.
func (c *Client) request(ctx context.Context, op string, args any) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	var rawArgs json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding %s args: %w", op, err)
		}
		rawArgs = encoded
	}

	sn := uuid.NewString()
	ch := make(chan result, 1)

	c.pendingMu.Lock()
	c.pending[sn] = ch
	c.pendingMu.Unlock()

	if err := c.write(frame{SN: sn, Op: op, Args: rawArgs}); err != nil {
		c.unregister(sn)
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.f.Code != nil && *res.f.Code != 0 {
			return nil, fmt.Errorf("%w: %s code %d", ErrRequestRejected, op, *res.f.Code)
		}
		return res.f.Msg, nil
	case <-ctx.Done():
		c.unregister(sn)
		return nil, mapContextErr(ctx.Err())
	}
}

// write serializes one frame onto the current connection.
func (c *Client) write(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.requestTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: write", ErrTimeout)
		}
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

// readLoop owns the read side of one connection. It routes response
// frames to pending requests and queues push frames. It exits when the
// connection errors, at which point every pending request is failed.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, initialScanBuffer), maxFrameSize)

	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			c.logWarn("discarding undecodable frame", "error", err)
			continue
		}

		if f.SN != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[f.SN]
			if ok {
				delete(c.pending, f.SN)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- result{f: f}
			}
			continue
		}

		if f.Op == opPush {
			var update StateUpdate
			if err := json.Unmarshal(f.Msg, &update); err != nil || update.Me == "" {
				c.logWarn("discarding malformed push", "error", err)
				continue
			}
			select {
			case c.pushCh <- update:
			default:
				c.dropped.Add(1)
				c.logWarn("push queue full, dropping update", "device", update.Me)
			}
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrConnectionLost
	}
	c.teardown(conn, err)
}

// teardown retires a connection: clears it if still current, signals
// waiters, and fails all pending requests. Idempotent per connection.
func (c *Client) teardown(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = nil
	lost := c.lostCh
	c.lostCh = nil
	c.mu.Unlock()

	conn.Close()
	if lost != nil {
		close(lost)
	}

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- result{err: fmt.Errorf("%w: %w", ErrConnectionLost, cause)}
	}

	c.logDebug("hub connection closed", "cause", cause)
}

func (c *Client) unregister(sn string) {
	c.pendingMu.Lock()
	delete(c.pending, sn)
	c.pendingMu.Unlock()
}

// readLine reads from r one byte at a time up to a newline.
func readLine(r io.Reader, limit int) ([]byte, error) {
	line := make([]byte, 0, 256)
	buf := make([]byte, 1)
	for len(line) < limit {
		if _, err := r.Read(buf); err != nil {
			return nil, err
		}
		if buf[0] == '\n' {
			return line, nil
		}
		line = append(line, buf[0])
	}
	return nil, fmt.Errorf("line exceeds %d bytes", limit)
}

// decodeSnapshot parses an inventory payload. A missing or undecodable
// payload is reported as ErrMalformed so callers can substitute an empty
// snapshot.
func decodeSnapshot(msg json.RawMessage) (*Snapshot, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty inventory payload", ErrMalformed)
	}
	var devices []DeviceSnapshot
	if err := json.Unmarshal(msg, &devices); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &Snapshot{Msg: devices}, nil
}

// mapContextErr converts context errors to the package's sentinel errors.
func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}
