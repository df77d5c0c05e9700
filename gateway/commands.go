package gateway

import "github.com/blackwing-dev/corvus/discord"

// Command is implemented by every payload the client sends to the gateway.
// Op identifies which opcode to wrap the payload's data in.
type Command interface {
	Op() OPCode
}

// HeartbeatCommand is sent periodically (at HelloEvent's interval) with the
// last-seen sequence number.
type HeartbeatCommand int64

func (h *HeartbeatCommand) Op() OPCode { return HeartbeatOP }

// ResumeCommand resumes a dropped session instead of a fresh Identify.
type ResumeCommand struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

func (r *ResumeCommand) Op() OPCode { return ResumeOP }

// VoiceStateUpdateCommand asks the main gateway to join, move, or leave a
// voice channel. Discord answers with a VoiceStateUpdateEvent and a
// VoiceServerUpdateEvent once the join completes.
type VoiceStateUpdateCommand struct {
	GuildID   discord.GuildID   `json:"guild_id"`
	ChannelID discord.ChannelID `json:"channel_id"` // null means disconnect

	SelfMute bool `json:"self_mute"`
	SelfDeaf bool `json:"self_deaf"`
}

func (v *VoiceStateUpdateCommand) Op() OPCode { return VoiceStateUpdateOP }
