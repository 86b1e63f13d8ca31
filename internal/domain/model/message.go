package model

// InboundMessage is one message delivered by the transport. Only the fields
// the router consumes are modeled; media payloads stay with the bridge.
type InboundMessage struct {
	SenderID     string
	FromMe       bool // echo of our own send; the router skips these
	Conversation string
	ExtendedText string // text of a quoted/extended message
}

// Text extracts the plain text content: the direct conversation field wins,
// then the extended text field. Empty means the message carries no routable text.
func (m InboundMessage) Text() string {
	if m.Conversation != "" {
		return m.Conversation
	}
	return m.ExtendedText
}
