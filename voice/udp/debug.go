package udp

// Debug is called with trace-level details of the UDP connection
// lifecycle, matching the same ambient-logging idiom used throughout this
// module (gateway.WSDebug, receive.Debug, voicegateway.Debug).
var Debug = func(v ...interface{}) {}
