package domain

// MessageContent carries the text-bearing shapes an inbound message can take.
type MessageContent struct {
	Conversation string
	ExtendedText string
	ImageCaption string
}

// Text returns the first non-empty shape in priority order.
func (c MessageContent) Text() string {
	switch {
	case c.Conversation != "":
		return c.Conversation
	case c.ExtendedText != "":
		return c.ExtendedText
	default:
		return c.ImageCaption
	}
}

type InboundMessage struct {
	Chat     string
	Sender   string
	FromSelf bool
	Content  MessageContent
}
