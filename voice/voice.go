package voice

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/blackwing-dev/corvus/discord"
	"github.com/blackwing-dev/corvus/gateway"
	"github.com/blackwing-dev/corvus/handler"
	"github.com/blackwing-dev/corvus/voice/sinks"
)

// defaultErrorHandler is the default ErrorLog used by Voice and every
// Session it creates, matching the teacher's log.Println-based default.
var defaultErrorHandler = func(err error) { Debug("voice gateway error:", err) }

// Voice is a repository of one Session per guild, driven by a single main
// Discord gateway connection. It is the multi-guild counterpart to
// Session, which owns exactly one guild's voice connection.
//
// Grounded on the teacher's voice/voice.go Voice type, adapted onto this
// module's own gateway.Gateway + handler.Handler instead of the teacher's
// state.State (this module carries no REST/cache layer — see DESIGN.md).
type Voice struct {
	gw      *gateway.Gateway
	handler *handler.Handler
	userID  discord.UserID

	newSinkTree func() sinks.Sink

	mapmutex sync.Mutex
	sessions map[discord.GuildID]*Session

	closers  []func()
	pumpDone chan struct{}

	// ErrorLog is called when a background error occurs (defaults to a
	// Debug-backed logger).
	ErrorLog func(err error)
}

// NewVoice creates a Voice repository wrapped around an already-open main
// gateway connection, adding the GuildVoiceStates intent. userID is the
// connected client's own user ID (the main gateway has no Me() cache
// lookup in this module's trimmed-down scope, so the caller supplies it
// directly). newSinkTree builds the root sink each newly joined Session
// starts with.
func NewVoice(gw *gateway.Gateway, userID discord.UserID, newSinkTree func() sinks.Sink) *Voice {
	gw.Identifier.AddIntents(gateway.IntentGuilds)
	gw.Identifier.AddIntents(gateway.IntentGuildVoiceStates)

	return NewVoiceWithoutIntents(gw, userID, newSinkTree)
}

// NewVoiceWithoutIntents creates a Voice repository without modifying the
// given gateway's intents; the caller must have already added
// IntentGuilds and IntentGuildVoiceStates itself.
func NewVoiceWithoutIntents(gw *gateway.Gateway, userID discord.UserID, newSinkTree func() sinks.Sink) *Voice {
	h := handler.New()

	v := &Voice{
		gw:          gw,
		handler:     h,
		userID:      userID,
		newSinkTree: newSinkTree,
		sessions:    make(map[discord.GuildID]*Session),
		pumpDone:    make(chan struct{}),
		ErrorLog:    defaultErrorHandler,
	}

	v.closers = []func(){
		h.AddHandler(v.onVoiceStateUpdate),
		h.AddHandler(v.onVoiceServerUpdate),
	}

	go v.pumpEvents()

	return v
}

// pumpEvents is the sole consumer of gw.Events: every dispatch is handed
// to the handler, which fans VoiceStateUpdateEvent/VoiceServerUpdateEvent
// out to Voice's own callbacks (and, once a Session is registered, to
// that Session's callbacks too).
func (v *Voice) pumpEvents() {
	defer close(v.pumpDone)

	for ev := range v.gw.Events {
		v.handler.Call(ev)
	}
}

func (v *Voice) onVoiceStateUpdate(e *gateway.VoiceStateUpdateEvent) {
	if discord.UserID(e.UserID) != v.userID {
		return
	}

	if _, ok := v.GetSession(discord.GuildID(e.GuildID)); !ok {
		return
	}

	if !discord.ChannelID(e.ChannelID).IsValid() {
		v.RemoveSession(discord.GuildID(e.GuildID))
	}
}

func (v *Voice) onVoiceServerUpdate(e *gateway.VoiceServerUpdateEvent) {
	// Session.Register already wired this guild's Session directly to the
	// same handler, so there's nothing left to relay here; this callback
	// only exists to mirror updateState's housekeeping symmetrically.
	_ = e
}

// GetSession gets the session for a guild, if one exists.
func (v *Voice) GetSession(guildID discord.GuildID) (*Session, bool) {
	v.mapmutex.Lock()
	defer v.mapmutex.Unlock()

	s, ok := v.sessions[guildID]
	return s, ok
}

// RemoveSession removes and disconnects a guild's session.
func (v *Voice) RemoveSession(guildID discord.GuildID) {
	v.mapmutex.Lock()
	ses, ok := v.sessions[guildID]
	if !ok {
		v.mapmutex.Unlock()
		return
	}
	delete(v.sessions, guildID)
	v.mapmutex.Unlock()

	ses.Unregister()
	ses.Leave()
}

// JoinChannel joins the given channel in the given guild, creating a new
// Session for that guild if one doesn't already exist.
func (v *Voice) JoinChannel(guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) (*Session, error) {
	return v.JoinChannelCtx(context.Background(), guildID, channelID, mute, deaf)
}

// JoinChannelCtx is JoinChannel with a caller-supplied context.
func (v *Voice) JoinChannelCtx(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) (*Session, error) {
	conn, ok := v.GetSession(guildID)
	if !ok {
		conn = NewSession(v.gw, v.userID, v.newSinkTree())
		conn.ErrorLog = v.ErrorLog
		conn.Register(v.handler.AddHandler)

		v.mapmutex.Lock()
		v.sessions[guildID] = conn
		v.mapmutex.Unlock()
	}

	return conn, conn.JoinChannelCtx(ctx, guildID, channelID, mute, deaf)
}

// Close disconnects every session and stops the event pump.
func (v *Voice) Close() error {
	closeErr := &CloseError{SessionErrors: make(map[discord.GuildID]error)}

	v.mapmutex.Lock()
	for _, fn := range v.closers {
		fn()
	}
	sessions := v.sessions
	v.sessions = make(map[discord.GuildID]*Session)
	v.mapmutex.Unlock()

	for guildID, s := range sessions {
		s.Unregister()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.LeaveCtx(ctx); err != nil {
			closeErr.SessionErrors[guildID] = err
		}
		cancel()
	}

	closeErr.GatewayErr = v.gw.Close()

	if closeErr.HasError() {
		return closeErr
	}
	return nil
}

// CloseError aggregates every error encountered while closing a Voice
// repository: each guild's disconnect error, plus the main gateway's own
// close error.
type CloseError struct {
	SessionErrors map[discord.GuildID]error
	GatewayErr    error
}

// HasError reports whether any error was recorded.
func (e *CloseError) HasError() bool {
	return e.GatewayErr != nil || len(e.SessionErrors) > 0
}

func (e *CloseError) Error() string {
	if e.GatewayErr != nil {
		return errors.Wrap(e.GatewayErr, "gateway close error").Error()
	}
	if len(e.SessionErrors) < 1 {
		return ""
	}
	return strconv.Itoa(len(e.SessionErrors)) + " voice sessions returned errors while attempting to disconnect"
}
