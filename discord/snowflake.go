package discord

import (
	"bytes"
	"strconv"
	"time"
)

const DiscordEpoch = 1420070400000 * int64(time.Millisecond)

// NullSnowflake is the zero value of every Snowflake-derived ID. Discord
// never issues a real snowflake of 0, so it doubles as "absent".
const NullSnowflake = Snowflake(0)

type Snowflake uint64

func NewSnowflake(t time.Time) Snowflake {
	return Snowflake(TimeToDiscordEpoch(t) << 22)
}

// ParseSnowflake parses a snowflake from its base-10 string form, the form
// Discord sends everywhere IDs appear in JSON payloads.
func ParseSnowflake(s string) (Snowflake, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Snowflake(u), nil
}

func (s *Snowflake) UnmarshalJSON(v []byte) error {
	v = bytes.Trim(v, `"`)
	if string(v) == "null" {
		*s = 0
		return nil
	}

	u, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return err
	}

	*s = Snowflake(u)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(s), 10) + `"`), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// IsValid returns true if the snowflake was ever actually issued by Discord.
func (s Snowflake) IsValid() bool {
	return s != NullSnowflake
}

func (s Snowflake) Time() time.Time {
	return time.Unix(0, int64(s)>>22*1000000+DiscordEpoch)
}

func (s Snowflake) Worker() uint8 {
	return uint8(s & 0x3E0000 >> 17)
}

func (s Snowflake) PID() uint8 {
	return uint8(s & 0x1F000 >> 12)
}

func (s Snowflake) Increment() uint16 {
	return uint16(s & 0xFFF)
}

func TimeToDiscordEpoch(t time.Time) int64 {
	return (t.UnixNano() - DiscordEpoch) / int64(time.Millisecond)
}

// The concrete ID types below are distinct from the bare Snowflake so that a
// GuildID can't be passed where a ChannelID is expected. Each voice
// identifier the receive pipeline needs (guild, channel, user, role) gets its
// own type; this mirrors the SSRC/User identity split the receive pipeline
// keeps elsewhere.

type (
	GuildID   Snowflake
	ChannelID Snowflake
	UserID    Snowflake
	RoleID    Snowflake
)

const (
	NullGuildID   = GuildID(NullSnowflake)
	NullChannelID = ChannelID(NullSnowflake)
	NullUserID    = UserID(NullSnowflake)
	NullRoleID    = RoleID(NullSnowflake)
)

func (id GuildID) String() string   { return Snowflake(id).String() }
func (id GuildID) IsValid() bool    { return id != NullGuildID }
func (id ChannelID) String() string { return Snowflake(id).String() }
func (id ChannelID) IsValid() bool  { return id != NullChannelID }
func (id UserID) String() string    { return Snowflake(id).String() }
func (id UserID) IsValid() bool     { return id != NullUserID }
func (id RoleID) String() string    { return Snowflake(id).String() }
func (id RoleID) IsValid() bool     { return id != NullRoleID }

func (id *GuildID) UnmarshalJSON(v []byte) error   { return (*Snowflake)(id).UnmarshalJSON(v) }
func (id GuildID) MarshalJSON() ([]byte, error)    { return Snowflake(id).MarshalJSON() }
func (id *ChannelID) UnmarshalJSON(v []byte) error { return (*Snowflake)(id).UnmarshalJSON(v) }
func (id ChannelID) MarshalJSON() ([]byte, error)  { return Snowflake(id).MarshalJSON() }
func (id *UserID) UnmarshalJSON(v []byte) error    { return (*Snowflake)(id).UnmarshalJSON(v) }
func (id UserID) MarshalJSON() ([]byte, error)     { return Snowflake(id).MarshalJSON() }
func (id *RoleID) UnmarshalJSON(v []byte) error    { return (*Snowflake)(id).UnmarshalJSON(v) }
func (id RoleID) MarshalJSON() ([]byte, error)     { return Snowflake(id).MarshalJSON() }
