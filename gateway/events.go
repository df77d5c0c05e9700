package gateway

import (
	"github.com/blackwing-dev/corvus/discord"
)

// HelloEvent is the first event sent on a fresh connection. It carries the
// heartbeat interval the client must obey.
type HelloEvent struct {
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval"`
}

// ReadyEvent is sent once Identify succeeds.
type ReadyEvent struct {
	Version   int    `json:"v"`
	SessionID string `json:"session_id"`

	User discord.User `json:"user"`
}

// ResumedEvent acknowledges a successful Resume.
type ResumedEvent struct{}

// InvalidSessionEvent tells the client whether the session is resumable
// (true) or whether it must start fresh with Identify (false).
type InvalidSessionEvent bool

// ReconnectEvent asks the client to reconnect and resume.
type ReconnectEvent struct{}

// VoiceStateUpdateEvent is dispatched whenever any user's voice state
// changes in a guild the client can see, including the client's own.
type VoiceStateUpdateEvent discord.VoiceState

// VoiceServerUpdateEvent is dispatched after a VoiceStateUpdateCommand joins
// a channel; it carries the voice gateway endpoint and session token.
type VoiceServerUpdateEvent struct {
	Token    string          `json:"token"`
	GuildID  discord.GuildID `json:"guild_id"`
	Endpoint string          `json:"endpoint"`
}
