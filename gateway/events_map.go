package gateway

// EventCreator maps a dispatch event's name (as sent in the "t" field) to a
// constructor for its Go type. Only the events this module's voice pipeline
// actually consumes are registered; an unknown event name surfaces as an
// UnknownEventError instead of being silently dropped, so gaps are visible.
var EventCreator = map[string]func() interface{}{
	"READY":               func() interface{} { return new(ReadyEvent) },
	"RESUMED":             func() interface{} { return new(ResumedEvent) },
	"VOICE_STATE_UPDATE":  func() interface{} { return new(VoiceStateUpdateEvent) },
	"VOICE_SERVER_UPDATE": func() interface{} { return new(VoiceServerUpdateEvent) },
}
