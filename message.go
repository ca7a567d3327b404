package msgloop

// MessageFlags marks properties of a Message relevant to synchronous IPC
// dispatch and reply routing.
type MessageFlags uint32

const (
	// MessageSync marks a message that expects a reply and will block the
	// sender until one arrives or the channel shuts down. There is no send
	// timeout.
	MessageSync MessageFlags = 1 << iota
	// MessageReply marks a message as the reply to an earlier sync send.
	MessageReply
	// MessageReplyError marks a reply that could not be produced normally
	// (the listener returned false, or dispatch failed).
	MessageReplyError
	// MessageShouldUnblock marks an inbound sync message that must be
	// dispatched even while the receiving thread is itself blocked in a
	// Send, so the remote side's request can be answered without deadlock.
	MessageShouldUnblock
)

// Message is the wire-level envelope this package's IPC layer depends on.
// Actual (de)serialization and transport are deliberately out of scope:
// ChannelProxy is treated as an external collaborator and only its
// interface matters here (see Sender/Listener in channel.go).
type Message struct {
	RoutingID int32
	Type      int32
	Flags     MessageFlags
	RequestID int64
	Payload   []byte
}

// IsSync reports whether this message expects a reply.
func (m *Message) IsSync() bool { return m.Flags&MessageSync != 0 }

// IsReply reports whether this message is itself a reply to a sync send.
func (m *Message) IsReply() bool { return m.Flags&MessageReply != 0 }

// IsReplyError reports whether a reply represents a failed dispatch.
func (m *Message) IsReplyError() bool { return m.Flags&MessageReplyError != 0 }

// ShouldUnblock reports whether this inbound sync message must be
// dispatched even while the receiving thread is blocked in its own Send.
func (m *Message) ShouldUnblock() bool { return m.Flags&MessageShouldUnblock != 0 }

// SetReplyError marks this message (expected to be a reply) as an error
// reply: the deserializer will not run, and the waiting Send reports
// failure.
func (m *Message) SetReplyError() { m.Flags |= MessageReply | MessageReplyError }
