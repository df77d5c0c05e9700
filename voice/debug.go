package voice

// Debug is called with trace-level details of the voice connection state
// machine's lifecycle (state transitions, SSRC map updates, reconnects),
// matching the ambient-logging idiom used by every other package in this
// module (gateway.WSDebug, voicegateway.Debug, udp.Debug, receive.Debug,
// sinks.Debug).
var Debug = func(v ...interface{}) {}
