package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/blackwing-dev/corvus/json"
	"github.com/pkg/errors"
)

type OPCode int

const (
	DispatchOP            OPCode = 0 // recv
	HeartbeatOP           OPCode = 1 // send/recv
	IdentifyOP            OPCode = 2 // send
	StatusUpdateOP        OPCode = 3
	VoiceStateUpdateOP    OPCode = 4 // send
	VoiceServerPingOP     OPCode = 5
	ResumeOP              OPCode = 6 // send
	ReconnectOP           OPCode = 7 // recv
	RequestGuildMembersOP OPCode = 8
	InvalidSessionOP      OPCode = 9  // recv
	HelloOP               OPCode = 10 // recv
	HeartbeatAckOP        OPCode = 11 // recv
)

// OP is the generic envelope every gateway payload, in either direction, is
// wrapped in.
type OP struct {
	Code      OPCode   `json:"op"`
	Data      json.Raw `json:"d"`
	Sequence  int64    `json:"s,omitempty"`
	EventName string   `json:"t,omitempty"`
}

// UnknownEventError is returned from HandleOP when a dispatch event's name
// isn't in EventCreator. The raw payload is kept so a caller can still log
// or forward it.
type UnknownEventError struct {
	Name string
	Data json.Raw
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event %q", e.Name)
}

// ErrReconnectRequest is returned from HandleOP when Discord asks the client
// to reconnect; it is not fatal. The read loop passes it to ErrorLog and
// keeps reading; it does not reconnect by itself.
var ErrReconnectRequest = errors.New("ReconnectOP received")

func (g *Gateway) HandleOP(op *OP) error {
	switch op.Code {
	case HeartbeatAckOP:
		g.PacerLoop.Echo()

	case HeartbeatOP:
		ctx, cancel := context.WithTimeout(context.Background(), g.WSTimeout)
		defer cancel()

		if err := g.Heartbeat(ctx); err != nil {
			return errors.Wrap(err, "failed to pace")
		}

	case ReconnectOP:
		g.Debug("ReconnectOP received")
		return ErrReconnectRequest

	case InvalidSessionOP:
		// Discord expects us to sleep for no reason before trying again.
		time.Sleep(time.Duration(rand.Intn(5)+1) * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), g.WSTimeout)
		defer cancel()

		if err := g.IdentifyCtx(ctx); err != nil {
			return ErrReconnectRequest
		}

		return nil

	case HelloOP:
		return nil

	case DispatchOP:
		if op.Sequence > 0 {
			g.Sequence.Set(op.Sequence)
		}

		fn, ok := EventCreator[op.EventName]
		if !ok {
			return &UnknownEventError{Name: op.EventName, Data: op.Data}
		}

		ev := fn()
		if err := g.driver.Unmarshal(op.Data, ev); err != nil {
			return errors.Wrap(err, "failed to parse event "+op.EventName)
		}

		if ready, ok := ev.(*ReadyEvent); ok {
			g.sessionMu.Lock()
			g.sessionID = ready.SessionID
			g.sessionMu.Unlock()
		}

		g.Events <- ev
		return nil

	default:
		return fmt.Errorf("unknown OP code %d (event %s)", op.Code, op.EventName)
	}

	return nil
}
