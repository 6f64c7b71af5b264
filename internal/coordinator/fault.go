package coordinator

import "fmt"

// Fault is the coordinator's uniform terminal-error shape, sent to the
// client as a wire error(code, msg) and logged server-side. It replaces
// the source implementation's bare (code, string) pairs passed around
// server.py's cancel/_handle_post_chunk call sites with one named type.
type Fault struct {
	Kind    string
	Code    uint32
	Message string
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", f.Kind, f.Message, f.Code)
}

func newFault(kind string, code uint32, format string, args ...any) Fault {
	return Fault{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	faultInvalidMessage    = func(msg string) Fault { return newFault("invalid_message", 400, "%s", msg) }
	faultUnknownConnection = newFault("unknown_connection", 400, "Unknown connection.")
	faultCreateFailed      = func(reason string) Fault { return newFault("create_failed", 500, "Failed to create upload: %s", reason) }
	faultFinalizeFailed    = func(reason string) Fault { return newFault("finalize_failed", 500, "%s", reason) }
	faultTimedOut          = newFault("timed_out", 408, "Connection timed out.")
	faultShutdown          = newFault("shutdown", 503, "Server shutdown")
)
