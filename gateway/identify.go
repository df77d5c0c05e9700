package gateway

import (
	"runtime"

	"github.com/blackwing-dev/corvus/json"
)

// Intents is a bitset of gateway intents. Discord uses these to decide which
// dispatch events a connection receives; this module only needs enough of
// the guild/voice family to resolve member identity and follow voice state
// changes, so the set is trimmed from the full Discord list.
type Intents uint32

const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
)

// IdentifyProperties describes the identifying client. Discord uses this to
// decide which version of the client is connecting for analytics purposes
// only; it has no effect on behavior.
type IdentifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

func DefaultIdentifyProperties() IdentifyProperties {
	return IdentifyProperties{
		OS:      runtime.GOOS,
		Browser: "corvus",
		Device:  "corvus",
	}
}

// IdentifyCommand is sent once after Hello to start a fresh session.
type IdentifyCommand struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold uint               `json:"large_threshold,omitempty"`
	Shard          *[2]int            `json:"shard,omitempty"`
	Presence       json.Raw           `json:"presence,omitempty"`
	Intents        Intents            `json:"intents"`
}

func (i *IdentifyCommand) Op() OPCode { return IdentifyOP }

// Identifier wraps the IdentifyCommand a Gateway sends on a fresh session.
// It does no identify rate limiting: a Gateway identifies as soon as it has
// read Hello, whatever other connections are doing.
type Identifier struct {
	IdentifyCommand
}

func DefaultIdentifier(token string) Identifier {
	return Identifier{
		IdentifyCommand: IdentifyCommand{
			Token:      token,
			Properties: DefaultIdentifyProperties(),
			Intents:    IntentGuilds | IntentGuildVoiceStates,
		},
	}
}

func (id *Identifier) AddIntents(i Intents) {
	id.Intents |= i
}
