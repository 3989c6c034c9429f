package chatwire

// TypeChatMessage is the only inbound frame type the client acts on.
// The room channel may emit other event types (presence, typing); those
// are ignored without logging.
const TypeChatMessage = "chat.message"

// Frame is the wire envelope exchanged with a room channel. Inbound
// frames carry the full set of fields; the outbound send frame uses only
// Message.
type Frame struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	SenderID  int64  `json:"sender_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Message is a received or locally echoed chat message, ready to render.
// Messages are ephemeral: rendered once, never mutated, never stored.
type Message struct {
	Content   string
	Sender    string
	SenderID  int64
	Timestamp string
}

func (f Frame) message() Message {
	return Message{
		Content:   f.Message,
		Sender:    f.Sender,
		SenderID:  f.SenderID,
		Timestamp: f.Timestamp,
	}
}
