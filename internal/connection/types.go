package connection

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/shardline/internal/shard"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrNeverConnected     = errors.New("connection was never established")
	ErrStaleConnection    = errors.New("connection stale (no heartbeat ack)")
	ErrReconnectRequested = errors.New("gateway requested reconnect")
	ErrInvalidSession     = errors.New("gateway invalidated session")
	ErrUnexpectedOpcode   = errors.New("unexpected opcode")
)

// Gateway opcodes.
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpPresenceUpdate = 3
	OpResume         = 6
	OpReconnect      = 7
	OpInvalidSession = 9
	OpHello          = 10
	OpHeartbeatAck   = 11
)

// Closing with a non-1000 code keeps the session resumable.
const closeCodeResumable = 4000

// Conn is one shard's gateway session.
type Conn interface {
	// Connect dials url and blocks until the session is ready.
	Connect(ctx context.Context, url string, presence *Presence, info shard.Info) error

	// Disconnect closes the session and forgets it.
	Disconnect(ctx context.Context) error

	// Reconnect closes the current socket and resumes the session when possible.
	Reconnect(ctx context.Context) error

	// Write sends a raw payload.
	Write(ctx context.Context, payload []byte) error

	// IsConnected reports whether the session is ready.
	IsConnected() bool

	// Latency returns the last heartbeat round trip.
	Latency() time.Duration
}

// Frame is the gateway envelope.
type Frame struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// RawMessage is a dispatch frame forwarded from a shard.
type RawMessage struct {
	ShardID    int             // Global shard id
	Type       string          // Dispatch name (e.g. MESSAGE_CREATE)
	Seq        int64           // Sequence number within the session
	Data       json.RawMessage // Dispatch payload
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// Presence is the status sent when identifying.
type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Activity is a presence activity.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Compression describes negotiated transport compression.
type Compression struct {
	Enabled bool
	Token   string // Value of the compress query parameter
}

// ZlibStream is shared-context zlib over the whole connection.
var ZlibStream = Compression{Enabled: true, Token: "zlib-stream"}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // Milliseconds
}

type identifyData struct {
	Token          string            `json:"token"`
	Intents        int               `json:"intents"`
	Properties     map[string]string `json:"properties"`
	Shard          shard.Info        `json:"shard"`
	Presence       *Presence         `json:"presence,omitempty"`
	LargeThreshold int               `json:"large_threshold,omitempty"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// ClientConfig configures a gateway client.
type ClientConfig struct {
	Token            string        // Bot token sent in IDENTIFY
	Intents          int           // Gateway intents bitfield
	LargeThreshold   int           // Member count above which guilds are sent without offline members
	Compression      Compression   // Transport compression (must match the dial URL)
	HandshakeTimeout time.Duration // WebSocket upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	WriteRate        time.Duration // Minimum spacing between user writes on average
	WriteBurst       int           // Writes allowed back to back

	Sink   chan<- RawMessage // Destination for dispatch frames (nil = discard)
	OnDrop func(err error)   // Called when the session is lost without Disconnect
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		WriteRate:        500 * time.Millisecond, // 120 per minute
		WriteBurst:       2,
	}
}
