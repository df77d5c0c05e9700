package voicegateway

import "github.com/blackwing-dev/corvus/discord"

// Command is implemented by every payload the client sends to the voice
// gateway. Op identifies which opcode to wrap the payload's data in.
type Command interface {
	Op() OPCode
}

// IdentifyCommand (opcode 0) starts a fresh voice session.
type IdentifyCommand struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this is really "server_id"
	UserID    discord.UserID  `json:"user_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

func (i *IdentifyCommand) Op() OPCode { return IdentifyOP }

// SelectProtocolCommand (opcode 1) chooses the UDP transport and the
// negotiated encryption mode after IP discovery completes.
type SelectProtocolCommand struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

func (s *SelectProtocolCommand) Op() OPCode { return SelectProtocolOP }

// HeartbeatCommand (opcode 3) is sent at HelloEvent's interval, carrying an
// opaque nonce the server echoes back unchanged.
type HeartbeatCommand int64

func (h *HeartbeatCommand) Op() OPCode { return HeartbeatOP }

// SpeakingFlag is a bitset of reasons a client is sending audio.
type SpeakingFlag uint64

const (
	Microphone SpeakingFlag = 1 << iota
	Soundshare
	Priority
)

// SpeakingCommand (opcode 5) announces the client's own speaking state.
type SpeakingCommand struct {
	Speaking SpeakingFlag `json:"speaking"`
	Delay    int          `json:"delay"`
	SSRC     uint32       `json:"ssrc"`
}

func (s *SpeakingCommand) Op() OPCode { return SpeakingOP }

// ResumeCommand (opcode 7) resumes a dropped voice session instead of a
// fresh Identify.
type ResumeCommand struct {
	GuildID   discord.GuildID `json:"server_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

func (r *ResumeCommand) Op() OPCode { return ResumeOP }
