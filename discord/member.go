package discord

// https://discord.com/developers/docs/resources/guild#guild-member-object
//
// Trimmed from the guild object family to the fields voice state resolution
// needs; the full guild/member REST model is out of scope for this module.
type Member struct {
	User   User     `json:"user"`
	Nick   string   `json:"nick,omitempty"`
	RoleIDs []RoleID `json:"roles"`

	Joined       Timestamp `json:"joined_at"`
	BoostedSince Timestamp `json:"premium_since,omitempty"`

	Deaf bool `json:"deaf"`
	Mute bool `json:"mute"`
}

// Mention returns the mention string of the member.
func (m Member) Mention() string {
	return "<@!" + m.User.ID.String() + ">"
}
