package domain

// Event names carried in the "event" discriminator of a channel frame.
// "open", "close" and "error" are connection lifecycle events synthesized
// locally by the channel manager; the rest travel on the wire.
const (
	EventAuth       = "auth"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventRead       = "read"
	EventOpen       = "open"
	EventClose      = "close"
	EventError      = "error"
)

// Frame is one discrete JSON message on a channel. It is a union over all
// frame shapes; which fields are set depends on Event.
type Frame struct {
	Event string `json:"event"`

	// auth (outbound)
	Token string `json:"token,omitempty"`

	// message: Content outbound, Message on the inbound echo
	Content string   `json:"content,omitempty"`
	Message *Message `json:"message,omitempty"`

	// typing / stop_typing (inbound)
	UserID   string `json:"user_uid,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Typing   bool   `json:"typing,omitempty"`

	// read (inbound)
	User string `json:"user,omitempty"`

	// error (inbound)
	Detail string `json:"detail,omitempty"`
}
