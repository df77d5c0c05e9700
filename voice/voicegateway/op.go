// Package voicegateway drives the per-connection voice websocket: the
// identify/resume handshake, heartbeating, and the handful of opcodes that
// hand off IP discovery and the session's secret key to the UDP layer.
package voicegateway

import (
	"fmt"

	"github.com/blackwing-dev/corvus/json"
	"github.com/pkg/errors"
)

type OPCode int

const (
	IdentifyOP           OPCode = 0  // send
	SelectProtocolOP     OPCode = 1  // send
	ReadyOP              OPCode = 2  // recv
	HeartbeatOP          OPCode = 3  // send
	SessionDescriptionOP OPCode = 4  // recv
	SpeakingOP           OPCode = 5  // send/recv
	HeartbeatAckOP       OPCode = 6  // recv
	ResumeOP             OPCode = 7  // send
	HelloOP              OPCode = 8  // recv
	ResumedOP            OPCode = 9  // recv
	ClientConnectOP      OPCode = 10 // recv, undocumented
	ClientDisconnectOP   OPCode = 11 // recv, undocumented

	// The 21-31 range is Discord's DAVE end-to-end-encryption/MLS group
	// protocol. This module doesn't implement DAVE (out of scope), but
	// still needs to recognize these opcodes on the wire so it can pass
	// them through rather than treating them as unknown-opcode errors.
	DAVEPrepareTransitionOP    OPCode = 21
	DAVEExecuteTransitionOP    OPCode = 22
	DAVETransitionReadyOP      OPCode = 23
	DAVEPrepareEpochOP         OPCode = 24
	MLSExternalSenderPackageOP OPCode = 25
	MLSKeyPackageOP            OPCode = 26
	MLSProposalsOP             OPCode = 27
	MLSCommitWelcomeOP         OPCode = 28
	MLSCommitTransitionOP      OPCode = 29
	MLSWelcomeOP               OPCode = 30
	MLSInvalidCommitWelcomeOP  OPCode = 31
)

// isDAVEPassthroughOP reports whether code falls in the 21-31 DAVE/MLS
// group-protocol range this module treats as opaque passthrough.
func isDAVEPassthroughOP(code OPCode) bool {
	return code >= DAVEPrepareTransitionOP && code <= MLSInvalidCommitWelcomeOP
}

// OP is the generic envelope every voice gateway payload is wrapped in.
type OP struct {
	Code OPCode   `json:"op"`
	Data json.Raw `json:"d"`
}

// PassthroughEvent carries a raw, unparsed DAVE/MLS payload (opcodes 21-31)
// up to the caller, since this module has no typed representation for
// Discord's end-to-end-encryption group protocol.
type PassthroughEvent struct {
	Code OPCode
	Data json.Raw
}

func (g *Gateway) handleOP(op *OP) error {
	switch {
	case op.Code == ReadyOP:
		var ready ReadyEvent
		if err := g.driver.Unmarshal(op.Data, &ready); err != nil {
			return errors.Wrap(err, "failed to parse Ready")
		}
		g.setReady(ready)
		g.events <- &ready

	case op.Code == SessionDescriptionOP:
		var desc SessionDescriptionEvent
		if err := g.driver.Unmarshal(op.Data, &desc); err != nil {
			return errors.Wrap(err, "failed to parse SessionDescription")
		}
		g.events <- &desc

	case op.Code == SpeakingOP:
		var speaking SpeakingEvent
		if err := g.driver.Unmarshal(op.Data, &speaking); err != nil {
			return errors.Wrap(err, "failed to parse Speaking event")
		}
		g.events <- &speaking

	case op.Code == HeartbeatAckOP:
		g.pacemaker.Echo()

	case op.Code == ResumedOP:
		g.Debug("voice gateway resumed")
		g.events <- &ResumedEvent{}

	case op.Code == ClientConnectOP:
		var ev ClientConnectEvent
		if err := g.driver.Unmarshal(op.Data, &ev); err != nil {
			return errors.Wrap(err, "failed to parse ClientConnect")
		}
		g.events <- &ev

	case op.Code == ClientDisconnectOP:
		var ev ClientDisconnectEvent
		if err := g.driver.Unmarshal(op.Data, &ev); err != nil {
			return errors.Wrap(err, "failed to parse ClientDisconnect")
		}
		g.events <- &ev

	case op.Code == HelloOP:
		// handled during Open, before handleOP's loop starts.

	case isDAVEPassthroughOP(op.Code):
		g.events <- &PassthroughEvent{Code: op.Code, Data: op.Data}

	default:
		return fmt.Errorf("unknown voice OP code %d", op.Code)
	}

	return nil
}
