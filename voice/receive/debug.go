package receive

// Debug is called with trace-level details of the receive pipeline: lost
// packets force-released from a jitter buffer, decoders created and torn
// down, and similar detail. It defaults to a no-op; assign it (e.g. to
// log.Println) during development.
var Debug = func(v ...interface{}) {}
