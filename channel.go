package msgloop

// Sender is the external collaborator that actually puts a Message on the
// wire on behalf of a SyncChannel. Spec.md treats the underlying
// ChannelProxy (and the I/O thread it runs on) as assumed infrastructure;
// only this interface is part of this package's contract.
type Sender interface {
	Send(msg *Message) bool
}

// Listener receives inbound messages addressed to a channel's owner.
type Listener interface {
	OnMessageReceived(msg *Message) bool
}

// MessageFilter intercepts inbound messages, on the I/O thread, before the
// channel's Listener sees them; a filter that handles a message stops it
// from reaching the Listener at all.
type MessageFilter interface {
	OnMessageReceived(msg *Message) bool
}

// Deserializer reads a sync message's reply payload into the caller's
// output variables. Reports whether deserialization succeeded; a false
// result (or a reply carrying MessageReplyError) makes the originating
// Send report failure.
type Deserializer interface {
	Deserialize(reply *Message) bool
}

// DeserializerFunc adapts a plain function to a Deserializer.
type DeserializerFunc func(reply *Message) bool

func (f DeserializerFunc) Deserialize(reply *Message) bool { return f(reply) }
