package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rickgao/shardline/internal/shard"
)

// Client is the WebSocket implementation of Conn.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	sess      *session
	connected bool
	url       string
	presence  *Presence
	info      shard.Info
	sessionID string
	resumeURL string

	seq     atomic.Int64
	latency atomic.Int64 // Nanoseconds
}

// session is one socket's lifetime. A reconnect replaces it.
type session struct {
	ws       *websocket.Conn
	inflater *inflater
	done     chan struct{}
	once     sync.Once

	lastBeat atomic.Int64 // Unix nanos of the last heartbeat sent
	acked    atomic.Bool
}

var _ Conn = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.WriteRate > 0 {
		limit = rate.Every(cfg.WriteRate)
	}
	burst := cfg.WriteBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Connect establishes the session and identifies.
func (c *Client) Connect(ctx context.Context, gatewayURL string, presence *Presence, info shard.Info) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.url = gatewayURL
	c.presence = presence
	c.info = info
	c.mu.Unlock()

	return c.open(ctx, false)
}

// Disconnect closes the session. The session cannot be resumed afterwards.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.connected = false
	c.sessionID = ""
	c.resumeURL = ""
	c.mu.Unlock()

	c.seq.Store(0)

	if s == nil {
		return nil
	}

	c.logger.Debug("disconnecting", "shard", c.shardID())
	return s.close(websocket.CloseNormalClosure)
}

// Reconnect drops the socket and resumes, falling back to a fresh identify
// when the gateway rejects the resume.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.url == "" {
		c.mu.Unlock()
		return ErrNeverConnected
	}
	s := c.sess
	c.sess = nil
	c.connected = false
	canResume := c.sessionID != ""
	c.mu.Unlock()

	if s != nil {
		s.close(closeCodeResumable)
	}

	err := c.open(ctx, canResume)
	if canResume && errors.Is(err, ErrInvalidSession) {
		c.logger.Info("resume rejected, identifying", "shard", c.shardID())
		c.clearSession()
		err = c.open(ctx, false)
	}
	return err
}

// Write sends a payload, waiting for the outbound rate limit.
func (c *Client) Write(ctx context.Context, payload []byte) error {
	c.mu.RLock()
	s := c.sess
	ok := c.connected
	c.mu.RUnlock()

	if !ok || s == nil {
		return ErrNotConnected
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.writeRaw(s, payload)
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Latency returns the last measured heartbeat round trip.
func (c *Client) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

// open dials, waits for HELLO, identifies or resumes and waits for the
// session to become ready.
func (c *Client) open(ctx context.Context, resume bool) error {
	c.mu.RLock()
	target := c.url
	if resume && c.resumeURL != "" {
		target = withQuery(c.resumeURL, c.url)
	}
	c.mu.RUnlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	s := &session{
		ws:   ws,
		done: make(chan struct{}),
	}
	s.acked.Store(true)
	if c.cfg.Compression.Enabled {
		s.inflater = newInflater()
	}

	// Abort a handshake that outlives ctx.
	stop := context.AfterFunc(ctx, func() { s.close(websocket.CloseNormalClosure) })
	defer stop()

	if err := c.handshake(ctx, s, resume); err != nil {
		s.close(websocket.CloseNormalClosure)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if !stop() {
		return ctx.Err()
	}

	c.mu.Lock()
	c.sess = s
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(s)

	c.logger.Debug("gateway session ready",
		"shard", c.shardID(),
		"resumed", resume,
	)

	return nil
}

func (c *Client) handshake(ctx context.Context, s *session, resume bool) error {
	f, err := s.readFrame()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Op != OpHello {
		return fmt.Errorf("%w: %d, want hello", ErrUnexpectedOpcode, f.Op)
	}

	var hello helloData
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
	}

	go c.heartbeatLoop(s, time.Duration(hello.HeartbeatInterval)*time.Millisecond)

	if resume {
		err = c.sendResume(s)
	} else {
		err = c.sendIdentify(s)
	}
	if err != nil {
		return err
	}

	for {
		f, err := s.readFrame()
		if err != nil {
			return fmt.Errorf("await ready: %w", err)
		}

		switch f.Op {
		case OpDispatch:
			c.trackSeq(f)
			if f.Type == "READY" {
				var ready readyData
				if err := json.Unmarshal(f.Data, &ready); err != nil {
					return fmt.Errorf("parse ready: %w", err)
				}
				c.mu.Lock()
				c.sessionID = ready.SessionID
				c.resumeURL = ready.ResumeGatewayURL
				c.mu.Unlock()
			}
			c.forward(s, f)
			if f.Type == "READY" || f.Type == "RESUMED" {
				return nil
			}

		case OpHeartbeat:
			if err := c.sendHeartbeat(s); err != nil {
				return err
			}

		case OpHeartbeatAck:
			c.ack(s)

		case OpInvalidSession:
			return ErrInvalidSession

		case OpReconnect:
			return ErrReconnectRequested
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// readLoop handles frames until the session ends.
func (c *Client) readLoop(s *session) {
	for {
		f, err := s.readFrame()
		if err != nil {
			c.drop(s, err)
			return
		}

		switch f.Op {
		case OpDispatch:
			c.trackSeq(f)
			c.forward(s, f)

		case OpHeartbeat:
			if err := c.sendHeartbeat(s); err != nil {
				c.drop(s, err)
				return
			}

		case OpHeartbeatAck:
			c.ack(s)

		case OpReconnect:
			c.drop(s, ErrReconnectRequested)
			return

		case OpInvalidSession:
			var resumable bool
			_ = json.Unmarshal(f.Data, &resumable)
			if !resumable {
				c.clearSession()
			}
			c.drop(s, ErrInvalidSession)
			return

		default:
			c.logger.Debug("ignoring frame", "shard", c.shardID(), "op", f.Op)
		}
	}
}

// heartbeatLoop sends heartbeats and detects zombied sessions.
func (c *Client) heartbeatLoop(s *session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.acked.Load() {
				c.logger.Warn("heartbeat not acknowledged, connection stale",
					"shard", c.shardID(),
					"interval", interval,
				)
				c.drop(s, ErrStaleConnection)
				return
			}
			if err := c.sendHeartbeat(s); err != nil {
				c.logger.Debug("failed to send heartbeat", "shard", c.shardID(), "error", err)
				c.drop(s, err)
				return
			}
		}
	}
}

// drop ends a session that failed on its own. Sessions already replaced or
// closed on purpose are ignored.
func (c *Client) drop(s *session, err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.close(closeCodeResumable)

	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
		c.connected = false
	}
	c.mu.Unlock()

	if !current {
		return
	}

	c.logger.Warn("gateway session lost", "shard", c.shardID(), "error", err)
	if c.cfg.OnDrop != nil {
		c.cfg.OnDrop(err)
	}
}

func (c *Client) forward(s *session, f Frame) {
	if c.cfg.Sink == nil {
		return
	}

	msg := RawMessage{
		ShardID:    c.shardID(),
		Type:       f.Type,
		Data:       f.Data,
		ReceivedAt: time.Now(),
	}
	if f.Seq != nil {
		msg.Seq = *f.Seq
	}

	select {
	case c.cfg.Sink <- msg:
	case <-s.done:
	}
}

func (c *Client) shardID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.ID()
}

func (c *Client) trackSeq(f Frame) {
	if f.Seq != nil {
		c.seq.Store(*f.Seq)
	}
}

func (c *Client) ack(s *session) {
	s.acked.Store(true)
	if sent := s.lastBeat.Load(); sent != 0 {
		c.latency.Store(time.Now().UnixNano() - sent)
	}
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.sessionID = ""
	c.resumeURL = ""
	c.mu.Unlock()
	c.seq.Store(0)
}

func (c *Client) sendHeartbeat(s *session) error {
	var d json.RawMessage = []byte("null")
	if seq := c.seq.Load(); seq != 0 {
		d, _ = json.Marshal(seq)
	}

	s.acked.Store(false)
	s.lastBeat.Store(time.Now().UnixNano())
	return c.writeFrame(s, OpHeartbeat, d)
}

func (c *Client) sendIdentify(s *session) error {
	c.mu.RLock()
	data := identifyData{
		Token:   c.cfg.Token,
		Intents: c.cfg.Intents,
		Properties: map[string]string{
			"os":      runtime.GOOS,
			"browser": "shardline",
			"device":  "shardline",
		},
		Shard:          c.info,
		Presence:       c.presence,
		LargeThreshold: c.cfg.LargeThreshold,
	}
	c.mu.RUnlock()

	d, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal identify: %w", err)
	}
	return c.writeFrame(s, OpIdentify, d)
}

func (c *Client) sendResume(s *session) error {
	c.mu.RLock()
	data := resumeData{
		Token:     c.cfg.Token,
		SessionID: c.sessionID,
		Seq:       c.seq.Load(),
	}
	c.mu.RUnlock()

	d, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal resume: %w", err)
	}
	return c.writeFrame(s, OpResume, d)
}

func (c *Client) writeFrame(s *session, op int, d json.RawMessage) error {
	payload, err := json.Marshal(Frame{Op: op, Data: d})
	if err != nil {
		return err
	}
	return c.writeRaw(s, payload)
}

func (c *Client) writeRaw(s *session, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		s.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}

// readFrame reads the next complete gateway frame.
func (s *session) readFrame() (Frame, error) {
	for {
		typ, data, err := s.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}

		if s.inflater != nil && typ == websocket.BinaryMessage {
			doc, complete, err := s.inflater.Inflate(data)
			if err != nil {
				return Frame{}, fmt.Errorf("inflate: %w", err)
			}
			if !complete {
				continue
			}
			data = doc
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return Frame{}, fmt.Errorf("parse frame: %w", err)
		}
		return f, nil
	}
}

// close ends the socket once. A resumable code keeps the session alive on
// the gateway side.
func (s *session) close(code int) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second),
		)
		err = s.ws.Close()
		if s.inflater != nil {
			s.inflater.Close()
		}
	})
	return err
}

// withQuery applies the query string of the original gateway URL to a
// resume URL, which the gateway hands out without one.
func withQuery(resumeURL, original string) string {
	r, err := url.Parse(resumeURL)
	if err != nil {
		return original
	}
	o, err := url.Parse(original)
	if err != nil {
		return resumeURL
	}
	r.RawQuery = o.RawQuery
	return r.String()
}
