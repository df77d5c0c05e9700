package voicegateway

// Debug is called with trace-level details of the voice gateway's
// handshake and reconnect behavior. It defaults to a no-op, matching the
// same ambient-logging idiom as gateway.WSDebug and receive.Debug.
var Debug = func(v ...interface{}) {}
