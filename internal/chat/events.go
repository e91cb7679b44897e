package chat

import "time"

// Inbound event types.
const (
	EventText     = "text"
	EventImage    = "image"
	EventMarkRead = "mark_read"
	EventTyping   = "typing"
)

// Outbound event types.
const (
	EventStatusUpdate        = "status_update"
	EventMessageStatusUpdate = "message_status_update"
	EventBulkReadUpdate      = "bulk_read_update"
	EventTypingIndicator     = "typing_indicator"
	EventChatCleared         = "chat_cleared"
	EventChatRemoved         = "chat_removed"
	EventMessageDeleted      = "message_deleted"
)

// StatusEvent announces a user's presence. Timestamp is nil for users that
// were never seen.
type StatusEvent struct {
	Type      string     `json:"type"`
	Username  string     `json:"username"`
	Status    Presence   `json:"status"`
	Timestamp *time.Time `json:"timestamp"`
}

// NewStatusEvent builds a status_update event.
func NewStatusEvent(username string, status Presence, at *time.Time) StatusEvent {
	return StatusEvent{Type: EventStatusUpdate, Username: username, Status: status, Timestamp: at}
}

// MessageStatusEvent tells a sender that one of its messages changed state.
type MessageStatusEvent struct {
	Type   string    `json:"type"`
	ID     MessageID `json:"id"`
	Status Status    `json:"status"`
}

// NewMessageStatusEvent builds a message_status_update event.
func NewMessageStatusEvent(id MessageID, status Status) MessageStatusEvent {
	return MessageStatusEvent{Type: EventMessageStatusUpdate, ID: id, Status: status}
}

// BulkReadEvent tells a sender that reader has read everything it was sent.
type BulkReadEvent struct {
	Type   string `json:"type"`
	Reader string `json:"reader"`
}

// NewBulkReadEvent builds a bulk_read_update event.
func NewBulkReadEvent(reader string) BulkReadEvent {
	return BulkReadEvent{Type: EventBulkReadUpdate, Reader: reader}
}

// TypingEvent relays a typing indicator.
type TypingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// NewTypingEvent builds a typing_indicator event.
func NewTypingEvent(from string, isTyping bool) TypingEvent {
	return TypingEvent{Type: EventTypingIndicator, Username: from, IsTyping: isTyping}
}

// ConversationEvent tells a user that its conversation with Partner was
// cleared or removed.
type ConversationEvent struct {
	Type    string `json:"type"`
	Partner string `json:"partner"`
}

// NewConversationEvent builds a chat_cleared or chat_removed event.
func NewConversationEvent(mode DeleteMode, partner string) ConversationEvent {
	return ConversationEvent{Type: mode.EventType(), Partner: partner}
}

// MessageDeletedEvent tells a participant that a message was deleted.
type MessageDeletedEvent struct {
	Type string    `json:"type"`
	ID   MessageID `json:"id"`
}

// NewMessageDeletedEvent builds a message_deleted event.
func NewMessageDeletedEvent(id MessageID) MessageDeletedEvent {
	return MessageDeletedEvent{Type: EventMessageDeleted, ID: id}
}
