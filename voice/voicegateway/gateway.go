package voicegateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/blackwing-dev/corvus/discord"
	"github.com/blackwing-dev/corvus/gateway"
	"github.com/blackwing-dev/corvus/json"
	"github.com/blackwing-dev/corvus/wsutil"
)

// Version is the voice gateway protocol version this package speaks.
const Version = "4"

var (
	ErrNoSessionID = errors.New("no session ID received in Ready")
	ErrFatalClose  = errors.New("voice gateway closed with a fatal close code")
)

// fatalCloseCodes are voice gateway close codes that must not be resumed or
// reconnected from automatically, per spec §4.11/§7.
var fatalCloseCodes = map[int]bool{
	4004: true, // authentication failed
	4010: true, // invalid channel
	4011: true, // disconnected (server requested)
	4012: true, // unknown protocol
	4013: true, // disconnected
	4014: true, // disconnected (channel deleted/kicked/etc.)
}

// IsFatalCloseCode reports whether a voice websocket close code is terminal
// (one of fatalCloseCodes) rather than recoverable (Resume, falling back to
// a fresh Identify). Nothing in this package calls it: the read loop does
// not inspect close codes and does not return ErrFatalClose.
func IsFatalCloseCode(code int) bool { return fatalCloseCodes[code] }

// State carries everything Identify/Resume needs, gathered from the two
// main-gateway events (VoiceStateUpdateEvent, VoiceServerUpdateEvent) that
// complete a voice channel join.
type State struct {
	GuildID   discord.GuildID
	ChannelID discord.ChannelID
	UserID    discord.UserID

	SessionID string
	Token     string
	Endpoint  string
}

// Gateway drives a single voice websocket connection: Identify/Resume,
// heartbeating, and relaying Ready/SessionDescription/Speaking/
// ClientConnect/ClientDisconnect events to the caller.
//
// Open blocks until Ready or Resumed is received. Events closes once the
// connection drops, fatally or not; the caller (voice.Session's
// connection state machine in voice/session.go) decides whether to
// reconnect.
type Gateway struct {
	WSTimeout time.Duration
	ErrorLog  func(err error)

	ws     *wsutil.Websocket
	driver json.Driver

	state State // constant after construction

	pacemaker gateway.Pacemaker

	mu    sync.RWMutex
	ready ReadyEvent

	events    chan interface{}
	resumable bool

	closeOnce sync.Once
}

// New constructs an unopened Gateway for the given handshake state.
func New(state State) *Gateway {
	return &Gateway{
		WSTimeout: wsutil.DefaultTimeout,
		ErrorLog:  func(error) {},
		state:     state,
		driver:    json.Default{},
		events:    make(chan interface{}, 16),
	}
}

func (g *Gateway) Debug(v ...interface{}) { Debug(v...) }

// Events delivers every decoded voice gateway event (*ReadyEvent,
// *SessionDescriptionEvent, *SpeakingEvent, *ResumedEvent,
// *ClientConnectEvent, *ClientDisconnectEvent, *PassthroughEvent). It
// closes once the underlying connection stops.
func (g *Gateway) Events() <-chan interface{} { return g.events }

// Ready returns the last Ready event received. Valid only after Open
// returns successfully.
func (g *Gateway) Ready() ReadyEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready
}

func (g *Gateway) setReady(r ReadyEvent) {
	g.mu.Lock()
	g.ready = r
	g.mu.Unlock()
}

// Open dials the voice websocket and performs the handshake: wait for
// Hello, send Identify (or Resume, if a prior session exists), then wait
// for Ready or Resumed. It blocks until the handshake completes or ctx
// expires.
func (g *Gateway) Open(ctx context.Context) error {
	endpoint := "wss://" + strings.TrimSuffix(g.state.Endpoint, ":80") + "/?v=" + Version

	ws, err := wsutil.New(ctx, endpoint)
	if err != nil {
		return errors.Wrap(err, "failed to create voice websocket")
	}
	g.ws = ws

	if err := g.ws.Redial(ctx); err != nil {
		return errors.Wrap(err, "failed to dial voice gateway")
	}

	raw := g.ws.Listen()

	first, ok := <-raw
	if !ok {
		return errors.New("voice gateway closed before Hello")
	}
	if first.Error != nil {
		return errors.Wrap(first.Error, "failed to read Hello")
	}

	var op OP
	if err := g.driver.Unmarshal(first.Data, &op); err != nil {
		return errors.Wrap(err, "failed to parse Hello envelope")
	}
	if op.Code != HelloOP {
		return fmt.Errorf("expected Hello, got voice opcode %d", op.Code)
	}

	var hello HelloEvent
	if err := g.driver.Unmarshal(op.Data, &hello); err != nil {
		return errors.Wrap(err, "failed to parse Hello data")
	}

	if g.resumable {
		if err := g.resumeCtx(ctx); err != nil {
			return errors.Wrap(err, "failed to resume")
		}
	} else {
		if err := g.identifyCtx(ctx); err != nil {
			return errors.Wrap(err, "failed to identify")
		}
	}

	if err := g.waitForHandshake(ctx, raw); err != nil {
		return err
	}
	g.resumable = true

	g.pacemaker = gateway.Pacemaker{
		Heartrate: hello.HeartbeatInterval.Duration(),
		Pace:      g.sendHeartbeatPace,
	}

	var wg sync.WaitGroup
	death := g.pacemaker.StartAsync(&wg)
	go func() {
		if err := <-death; err != nil {
			g.ErrorLog(errors.Wrap(err, "voice pacemaker died"))
			g.ws.Close(err)
		}
	}()

	go g.readLoop(raw)

	return nil
}

// waitForHandshake consumes events until Ready or Resumed arrives,
// forwarding every event seen along the way (Discord can interleave
// ClientConnect/Speaking events before Ready completes).
func (g *Gateway) waitForHandshake(ctx context.Context, raw <-chan wsutil.Event) error {
	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				return errors.New("voice gateway closed during handshake")
			}
			if ev.Error != nil {
				return errors.Wrap(ev.Error, "voice gateway read error during handshake")
			}

			var op OP
			if err := g.driver.Unmarshal(ev.Data, &op); err != nil {
				return errors.Wrap(err, "failed to parse OP during handshake")
			}
			if err := g.handleOP(&op); err != nil {
				return err
			}
			if op.Code == ReadyOP || op.Code == ResumedOP {
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway) readLoop(raw <-chan wsutil.Event) {
	defer close(g.events)

	for ev := range raw {
		if ev.Error != nil {
			g.ErrorLog(ev.Error)
			continue
		}

		var op OP
		if err := g.driver.Unmarshal(ev.Data, &op); err != nil {
			g.ErrorLog(errors.Wrap(err, "failed to parse voice OP"))
			continue
		}

		if err := g.handleOP(&op); err != nil {
			g.ErrorLog(err)
		}
	}
}

func (g *Gateway) sendHeartbeatPace() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.WSTimeout)
	defer cancel()

	nonce := HeartbeatCommand(time.Now().UnixNano())
	return g.Send(ctx, &nonce)
}

func (g *Gateway) identifyCtx(ctx context.Context) error {
	if g.state.GuildID == 0 || g.state.UserID == 0 || g.state.SessionID == "" || g.state.Token == "" {
		return errors.New("missing GuildID, UserID, SessionID, or Token for identify")
	}

	return g.Send(ctx, &IdentifyCommand{
		GuildID:   g.state.GuildID,
		UserID:    g.state.UserID,
		SessionID: g.state.SessionID,
		Token:     g.state.Token,
	})
}

func (g *Gateway) resumeCtx(ctx context.Context) error {
	if !g.state.GuildID.IsValid() || g.state.SessionID == "" || g.state.Token == "" {
		return errors.New("missing GuildID, SessionID, or Token for resume")
	}

	return g.Send(ctx, &ResumeCommand{
		GuildID:   g.state.GuildID,
		SessionID: g.state.SessionID,
		Token:     g.state.Token,
	})
}

// SelectProtocol sends the chosen UDP transport/encryption mode (opcode 1)
// after IP discovery completes.
func (g *Gateway) SelectProtocol(ctx context.Context, data SelectProtocolData) error {
	return g.Send(ctx, &SelectProtocolCommand{Protocol: "udp", Data: data})
}

// Speaking announces the client's own speaking state (opcode 5).
func (g *Gateway) Speaking(ctx context.Context, flag SpeakingFlag) error {
	return g.Send(ctx, &SpeakingCommand{
		Speaking: flag,
		SSRC:     g.Ready().SSRC,
	})
}

// Send marshals and sends a single Command to the voice gateway.
func (g *Gateway) Send(ctx context.Context, cmd Command) error {
	data, err := g.driver.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to marshal voice command")
	}

	op := OP{Code: cmd.Op(), Data: data}

	b, err := g.driver.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "failed to marshal voice OP")
	}

	return g.ws.Send(ctx, b)
}

// Close gracefully closes the voice websocket connection.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.pacemaker.Stop()
		if g.ws != nil {
			err = g.ws.Close(nil)
		}
	})
	return err
}
