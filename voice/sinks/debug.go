package sinks

// Debug is an injectable logging hook, matching gateway.WSDebug and
// receive.Debug; nil by default so the package is silent until a caller
// wires up logging.
var Debug = func(v ...interface{}) {}
