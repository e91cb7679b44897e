package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
const pngDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestStatusOrdering(t *testing.T) {
	assert.True(t, chat.StatusSent.Before(chat.StatusDelivered))
	assert.True(t, chat.StatusDelivered.Before(chat.StatusRead))
	assert.True(t, chat.StatusSent.Before(chat.StatusRead))
	assert.False(t, chat.StatusRead.Before(chat.StatusDelivered))
	assert.False(t, chat.StatusDelivered.Before(chat.StatusDelivered))
	assert.False(t, chat.Status("bogus").Valid())
}

func TestMessageIDKeepsWireForm(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want chat.MessageID
		out  string
	}{
		{name: "client millisecond id", in: `1697040000123`, want: "1697040000123", out: `1697040000123`},
		{name: "python float id", in: `1697040000.123456`, want: "1697040000.123456", out: `1697040000.123456`},
		{name: "string id", in: `"0192f7a4-1c2d-7000-8000-000000000000"`, want: "0192f7a4-1c2d-7000-8000-000000000000", out: `"0192f7a4-1c2d-7000-8000-000000000000"`},
		{name: "null", in: `null`, want: "", out: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id chat.MessageID
			require.NoError(t, json.Unmarshal([]byte(tt.in), &id))
			assert.Equal(t, tt.want, id)

			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, tt.out, string(out))
		})
	}

	var id chat.MessageID
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestNewMessageIDIsUnique(t *testing.T) {
	seen := make(map[chat.MessageID]struct{})
	for range 1000 {
		id := chat.NewMessageID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    chat.Inbound
		wantErr error
	}{
		{
			name: "text with client id",
			raw:  `{"type":"text","id":1697040000123,"target":"bob","message":"hi"}`,
			want: chat.SendRequest{ID: "1697040000123", Kind: chat.KindText, Target: "bob", Body: "hi"},
		},
		{
			name: "text without id",
			raw:  `{"type":"text","target":"bob","message":"hi"}`,
			want: chat.SendRequest{Kind: chat.KindText, Target: "bob", Body: "hi"},
		},
		{
			name: "image url",
			raw:  `{"type":"image","target":"bob","message":"https://example.com/cat.png"}`,
			want: chat.SendRequest{Kind: chat.KindImage, Target: "bob", Body: "https://example.com/cat.png"},
		},
		{
			name: "image data url",
			raw:  `{"type":"image","target":"bob","message":"` + pngDataURL + `"}`,
			want: chat.SendRequest{Kind: chat.KindImage, Target: "bob", Body: pngDataURL},
		},
		{
			name: "mark read",
			raw:  `{"type":"mark_read","target":"alice"}`,
			want: chat.MarkReadRequest{Target: "alice"},
		},
		{
			name: "typing defaults to false",
			raw:  `{"type":"typing","target":"alice"}`,
			want: chat.TypingRequest{Target: "alice"},
		},
		{
			name: "typing true",
			raw:  `{"type":"typing","target":"alice","isTyping":true}`,
			want: chat.TypingRequest{Target: "alice", IsTyping: true},
		},
		{name: "not json", raw: `hello`, wantErr: chat.ErrInvalidEvent},
		{name: "unknown type", raw: `{"type":"poke","target":"bob"}`, wantErr: chat.ErrUnknownEventType},
		{name: "missing type", raw: `{"target":"bob"}`, wantErr: chat.ErrUnknownEventType},
		{name: "missing target", raw: `{"type":"text","message":"hi"}`, wantErr: chat.ErrInvalidEvent},
		{name: "empty body", raw: `{"type":"text","target":"bob","message":""}`, wantErr: chat.ErrInvalidEvent},
		{name: "target wrong type", raw: `{"type":"mark_read","target":7}`, wantErr: chat.ErrInvalidEvent},
		{name: "image that is text", raw: `{"type":"image","target":"bob","message":"data:image/png;base64,aGVsbG8gd29ybGQ="}`, wantErr: chat.ErrInvalidEvent},
		{name: "image that is not a url", raw: `{"type":"image","target":"bob","message":"cat.png"}`, wantErr: chat.ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chat.ParseInbound([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUsername(t *testing.T) {
	for _, ok := range []string{"alice", "Bob_42", "élodie"} {
		assert.NoError(t, chat.ValidateUsername(ok), ok)
	}
	for _, bad := range []string{"", "two words", "a/b", "what?", "tab\there"} {
		assert.ErrorIs(t, chat.ValidateUsername(bad), chat.ErrInvalidUsername, bad)
	}
}

func TestMessageWireShape(t *testing.T) {
	msg := chat.Message{ID: "42", Sender: "alice", Target: "bob", Body: "hi", Kind: chat.KindText, Status: chat.StatusDelivered}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, float64(42), fields["id"])
	assert.Equal(t, "text", fields["type"])
	assert.Equal(t, "hi", fields["message"])
	assert.Equal(t, "delivered", fields["status"])

	assert.Equal(t, "bob", msg.Partner("alice"))
	assert.Equal(t, "alice", msg.Partner("bob"))
	assert.True(t, msg.Between("bob", "alice"))
	assert.False(t, msg.Between("bob", "carol"))
}

func TestDeleteMode(t *testing.T) {
	mode, err := chat.ParseDeleteMode("")
	require.NoError(t, err)
	assert.Equal(t, chat.EventChatCleared, chat.NewConversationEvent(mode, "bob").Type)

	mode, err = chat.ParseDeleteMode("delete")
	require.NoError(t, err)
	assert.Equal(t, chat.EventChatRemoved, chat.NewConversationEvent(mode, "bob").Type)

	_, err = chat.ParseDeleteMode("shred")
	assert.Error(t, err)
}
