package gateway

// WSDebug is called with trace-level details of the gateway's internal
// state machine. It defaults to a no-op; assign it (e.g. to log.Println) to
// observe reconnects, heartbeats, and resumes during development.
var WSDebug = func(v ...interface{}) {}

// WSError is called whenever the gateway recovers from a non-fatal error
// in its background goroutines. It defaults to a no-op.
var WSError = func(err error) {}
