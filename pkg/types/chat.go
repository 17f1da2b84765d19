package types

// ChatState is the streaming state carried by a chat event.
type ChatState string

const (
	// ChatStateDelta marks an in-progress chat event. The payload text is
	// the cumulative output produced so far, not an incremental fragment.
	ChatStateDelta ChatState = "delta"
	// ChatStateFinal marks the terminating chat event for an exchange.
	ChatStateFinal ChatState = "final"
)

// ChatSendParams is the payload of a chat.send request.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatContent is one content block of a chat message.
type ChatContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is the message body carried by a chat event.
type ChatMessage struct {
	Content []ChatContent `json:"content"`
}

// ChatEventPayload is the payload of a chat event frame.
type ChatEventPayload struct {
	SessionKey string      `json:"sessionKey"`
	State      ChatState   `json:"state"`
	Message    ChatMessage `json:"message"`
}

// Text concatenates the text content blocks of the event's message.
func (p *ChatEventPayload) Text() string {
	var out string
	for _, c := range p.Message.Content {
		if c.Type == "text" {
			out += c.Text
		}
	}
	return out
}
