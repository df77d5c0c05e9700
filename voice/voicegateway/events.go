package voicegateway

import (
	"strconv"

	"github.com/blackwing-dev/corvus/discord"
)

// HelloEvent carries the heartbeat interval, sent right away on connect.
type HelloEvent struct {
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval"`
}

// ReadyEvent (opcode 2) gives the information needed to dial the voice UDP
// socket and perform IP discovery.
type ReadyEvent struct {
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	SSRC  uint32   `json:"ssrc"`
	Modes []string `json:"modes"`
}

// Addr returns the UDP dial target as "ip:port".
func (r ReadyEvent) Addr() string {
	return r.IP + ":" + strconv.Itoa(r.Port)
}

// SessionDescriptionEvent (opcode 4) carries the negotiated encryption mode
// and the 32-byte secret key used to encrypt/decrypt RTP/RTCP.
type SessionDescriptionEvent struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// SpeakingEvent (opcode 5) is both sent by the client to announce its own
// speaking state and received to learn another SSRC's owning user.
type SpeakingEvent struct {
	Speaking SpeakingFlag   `json:"speaking"`
	Delay    int            `json:"delay"`
	SSRC     uint32         `json:"ssrc"`
	UserID   discord.UserID `json:"user_id,omitempty"`
}

// ResumedEvent (opcode 9) acknowledges a successful Resume.
type ResumedEvent struct{}

// ClientConnectEvent (opcode 10, undocumented) announces a new speaker's
// SSRC mapping without going through the main gateway's presence system.
type ClientConnectEvent struct {
	UserID    discord.UserID `json:"user_id"`
	AudioSSRC uint32         `json:"audio_ssrc"`
	VideoSSRC uint32         `json:"video_ssrc"`
}

// ClientDisconnectEvent (opcode 11, undocumented) announces that a user has
// left the channel, so their SSRC mapping should be forgotten.
type ClientDisconnectEvent struct {
	UserID discord.UserID `json:"user_id"`
}
