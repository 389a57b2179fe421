package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Dispatch names with typed payloads.
const (
	TypeReady         EventType = "READY"
	TypeResumed       EventType = "RESUMED"
	TypeGuildCreate   EventType = "GUILD_CREATE"
	TypeMessageCreate EventType = "MESSAGE_CREATE"
)

// Snowflake is a platform entity id. It decodes from a JSON string or number.
type Snowflake uint64

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	raw := string(b)
	if len(b) > 1 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	if raw == "" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse snowflake %q: %w", raw, err)
	}
	*s = Snowflake(v)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// User is the author of a message or the identified bot user.
type User struct {
	ID       Snowflake `json:"id"`
	Username string    `json:"username"`
	Bot      bool      `json:"bot"`
}

// UnavailableGuild is a guild listed in READY before its GUILD_CREATE arrives.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Ready is sent once a shard's session is identified.
type Ready struct {
	ShardID   int                `json:"-"`
	Version   int                `json:"v"`
	User      User               `json:"user"`
	Guilds    []UnavailableGuild `json:"guilds"`
	SessionID string             `json:"session_id"`
	ResumeURL string             `json:"resume_gateway_url"`
	Shard     [2]int             `json:"shard"`
}

func (Ready) Type() EventType { return TypeReady }

// Resumed is sent after a successful resume.
type Resumed struct {
	ShardID int `json:"-"`
}

func (Resumed) Type() EventType { return TypeResumed }

// GuildCreate announces a guild available on a shard.
type GuildCreate struct {
	ShardID     int       `json:"-"`
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	Unavailable bool      `json:"unavailable"`
}

func (GuildCreate) Type() EventType { return TypeGuildCreate }

// MessageCreate is a new message in a channel.
type MessageCreate struct {
	ShardID   int       `json:"-"`
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
}

func (MessageCreate) Type() EventType { return TypeMessageCreate }

// RawEvent carries any dispatch without a typed payload.
type RawEvent struct {
	ShardID int
	Name    EventType
	Seq     int64
	Data    json.RawMessage
}

func (e RawEvent) Type() EventType { return e.Name }
