// Package gateway drives the main Discord gateway connection. Its only job
// in this module is to keep a guild's voice state current and to relay the
// VoiceStateUpdateEvent/VoiceServerUpdateEvent pair that the voice
// connection state machine in voice.Session needs to open a voice socket.
// It does not expose the rest of Discord's dispatch event catalogue.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/blackwing-dev/corvus/json"
	"github.com/blackwing-dev/corvus/wsutil"
	"github.com/pkg/errors"
)

const Version = "10"
const Encoding = "json"

// AddGatewayParams appends the gateway's required query parameters onto a
// base Websocket URL.
func AddGatewayParams(baseURL string) string {
	param := url.Values{
		"v":        {Version},
		"encoding": {Encoding},
	}
	return baseURL + "?" + param.Encode()
}

// Gateway maintains a single connection to the Discord gateway, handling
// Identify/Resume, heartbeating, and dispatch decoding. Reconnection is the
// caller's responsibility: Open returns once Identify/Resume has been sent,
// and Events closes when the connection drops, fatally or not.
type Gateway struct {
	WS         *wsutil.Websocket
	Identifier Identifier
	Events     chan interface{}

	// ErrorLog receives non-fatal background errors, mirroring the
	// teacher's pluggable ErrorLog fields rather than a logging library.
	ErrorLog func(err error)

	WSTimeout time.Duration

	PacerLoop Pacemaker
	Sequence  Sequence

	sessionMu sync.Mutex
	sessionID string

	driver json.Driver

	closeOnce sync.Once
}

// NewWithIdentifier dials a Gateway with a caller-built Identifier, e.g. one
// with a Shard pair or extra intents set.
func NewWithIdentifier(ctx context.Context, gatewayURL string, id Identifier) (*Gateway, error) {
	ws, err := wsutil.New(ctx, AddGatewayParams(gatewayURL))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create websocket")
	}

	return &Gateway{
		WS:         ws,
		Identifier: id,
		Events:     make(chan interface{}, 64),
		ErrorLog:   func(error) {},
		WSTimeout:  wsutil.DefaultTimeout,
		driver:     json.Default{},
	}, nil
}

// New dials a Gateway for the default Discord server using the given token.
func New(ctx context.Context, gatewayURL, token string) (*Gateway, error) {
	return NewWithIdentifier(ctx, gatewayURL, DefaultIdentifier(token))
}

func (g *Gateway) Debug(v ...interface{}) { WSDebug(v...) }

// SessionID returns the session ID assigned by the last Ready event, or
// empty if the gateway has never identified successfully.
func (g *Gateway) SessionID() string {
	g.sessionMu.Lock()
	defer g.sessionMu.Unlock()
	return g.sessionID
}

// Open dials the gateway and starts the background read/heartbeat loops. It
// blocks until Hello is read and Identify or Resume is sent; it does not
// wait for the Ready or Resumed reply, which arrives later on Events.
func (g *Gateway) Open(ctx context.Context) error {
	if err := g.WS.Redial(ctx); err != nil {
		return errors.Wrap(err, "failed to dial gateway")
	}

	events := g.WS.Listen()

	first, ok := <-events
	if !ok {
		return errors.New("gateway closed before Hello")
	}
	if first.Error != nil {
		return errors.Wrap(first.Error, "failed to read Hello")
	}

	var op OP
	if err := g.driver.Unmarshal(first.Data, &op); err != nil {
		return errors.Wrap(err, "failed to parse Hello")
	}
	if op.Code != HelloOP {
		return fmt.Errorf("expected Hello, got opcode %d", op.Code)
	}

	var hello HelloEvent
	if err := g.driver.Unmarshal(op.Data, &hello); err != nil {
		return errors.Wrap(err, "failed to parse Hello data")
	}

	g.PacerLoop = Pacemaker{
		Heartrate: hello.HeartbeatInterval.Duration(),
		Pace:      g.sendHeartbeatPace,
	}

	if g.SessionID() != "" {
		if err := g.resumeCtx(ctx); err != nil {
			return errors.Wrap(err, "failed to resume")
		}
	} else {
		if err := g.IdentifyCtx(ctx); err != nil {
			return errors.Wrap(err, "failed to identify")
		}
	}

	var wg sync.WaitGroup
	death := g.PacerLoop.StartAsync(&wg)
	go func() {
		if err := <-death; err != nil {
			g.ErrorLog(errors.Wrap(err, "pacemaker died"))
			g.WS.Close(err)
		}
	}()

	go g.readLoop(events)

	return nil
}

func (g *Gateway) readLoop(events <-chan wsutil.Event) {
	defer close(g.Events)

	for ev := range events {
		if ev.Error != nil {
			g.ErrorLog(ev.Error)
			continue
		}

		var op OP
		if err := g.driver.Unmarshal(ev.Data, &op); err != nil {
			g.ErrorLog(errors.Wrap(err, "failed to parse OP"))
			continue
		}

		if err := g.HandleOP(&op); err != nil {
			g.ErrorLog(err)
		}
	}
}

func (g *Gateway) sendHeartbeatPace() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.WSTimeout)
	defer cancel()
	return g.Heartbeat(ctx)
}

// Heartbeat sends a single heartbeat with the last-seen sequence number.
func (g *Gateway) Heartbeat(ctx context.Context) error {
	seq := HeartbeatCommand(g.Sequence.Get())
	return g.Send(ctx, &seq)
}

// IdentifyCtx sends a fresh Identify payload.
func (g *Gateway) IdentifyCtx(ctx context.Context) error {
	return g.Send(ctx, &g.Identifier.IdentifyCommand)
}

func (g *Gateway) resumeCtx(ctx context.Context) error {
	resume := ResumeCommand{
		Token:     g.Identifier.Token,
		SessionID: g.SessionID(),
		Sequence:  g.Sequence.Get(),
	}
	return g.Send(ctx, &resume)
}

// Send marshals and sends a single Command to the gateway.
func (g *Gateway) Send(ctx context.Context, cmd Command) error {
	data, err := g.driver.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command")
	}

	op := OP{Code: cmd.Op(), Data: data}

	b, err := g.driver.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "failed to marshal OP")
	}

	return g.WS.Send(ctx, b)
}

// UpdateVoiceState asks the main gateway to join, move, or leave a voice
// channel. The caller observes the join completing via the
// VoiceStateUpdateEvent/VoiceServerUpdateEvent pair delivered on Events.
func (g *Gateway) UpdateVoiceState(ctx context.Context, cmd VoiceStateUpdateCommand) error {
	return g.Send(ctx, &cmd)
}

// Close gracefully closes the gateway connection.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.PacerLoop.Stop()
		err = g.WS.Close(nil)
	})
	return err
}
