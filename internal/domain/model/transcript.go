package model

import "time"

// Direction marks whether a transcript entry was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TranscriptEntry is an append-only record of one message exchanged with a
// counterpart. It doubles as the audit log and as the source of bounded
// conversation history for the AI response strategy. Never mutated after insert.
type TranscriptEntry struct {
	ID            int64
	InstanceID    string
	CounterpartID string
	Body          string
	Direction     Direction
	CreatedAt     time.Time
}

// ChatRole is the role a transcript entry plays when replayed as
// chat-completion history.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn is one history entry of a chat-completion request.
type ChatTurn struct {
	Role    ChatRole
	Content string
}

// HistoryRole maps a transcript direction to its chat-completion role:
// outbound messages were produced by the assistant, inbound by the user.
func (e TranscriptEntry) HistoryRole() ChatRole {
	if e.Direction == DirectionOutbound {
		return RoleAssistant
	}
	return RoleUser
}
