package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// MessageID identifies a message. Clients may supply their own id, usually a
// millisecond timestamp sent as a JSON number, so they can match server
// acknowledgements against optimistic local copies. The server keeps such ids
// verbatim and mints UUIDv7 values when none is given.
//
// On the wire an id whose text is a JSON number is encoded as a number and
// anything else as a string.
type MessageID string

// NewMessageID returns a fresh time-ordered id.
func NewMessageID() MessageID {
	id, err := uuid.NewV7()
	if err != nil {
		return MessageID(uuid.NewString())
	}
	return MessageID(id.String())
}

// String returns the canonical text of the id.
func (id MessageID) String() string {
	return string(id)
}

// IsZero reports whether no id was given.
func (id MessageID) IsZero() bool {
	return id == ""
}

func (id MessageID) numeric() bool {
	if id == "" {
		return false
	}
	if _, err := strconv.ParseFloat(string(id), 64); err != nil {
		return false
	}
	return json.Valid([]byte(id))
}

// MarshalJSON implements json.Marshaler.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler. It accepts strings, numbers and
// null.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("message id must be a string or a number: %w", err)
		}
		*id = MessageID(n.String())
		return nil
	}
}
