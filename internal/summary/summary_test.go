package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeGenerator) generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

var fixed = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGemini(gen generator) *Gemini {
	return &Gemini{gen: gen, logger: slog.New(slog.DiscardHandler), now: func() time.Time { return fixed }}
}

func conversation(n int) []chat.Message {
	msgs := make([]chat.Message, n)
	for i := range msgs {
		msgs[i] = chat.Message{Sender: "alice", Target: "bob", Body: fmt.Sprintf("line %d", i)}
	}
	return msgs
}

func TestSummarize_NoMessages(t *testing.T) {
	g := newTestGemini(&fakeGenerator{})

	got := g.Summarize(context.Background(), nil)

	assert.Equal(t, []string{msgEmpty}, got.Points)
	assert.Equal(t, fixed, got.UpdatedAt)
}

func TestSummarize_MissingKey(t *testing.T) {
	g, err := NewGemini(context.Background(), "", "", nil)
	require.NoError(t, err)

	got := g.Summarize(context.Background(), conversation(2))

	assert.Equal(t, []string{msgUnavailable}, got.Points)
}

func TestSummarize_ParsesBullets(t *testing.T) {
	gen := &fakeGenerator{reply: "- Meeting moved to 2 PM\n\n• Bob brings documents\n* Casual chat  \n"}
	g := newTestGemini(gen)

	got := g.Summarize(context.Background(), conversation(3))

	assert.Equal(t, []string{"Meeting moved to 2 PM", "Bob brings documents", "Casual chat"}, got.Points)
	assert.Contains(t, gen.prompt, "alice: line 0\n")
}

func TestSummarize_UsesMostRecentMessages(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	g := newTestGemini(gen)

	g.Summarize(context.Background(), conversation(60))

	assert.NotContains(t, gen.prompt, "line 9\n")
	assert.Contains(t, gen.prompt, "line 10\n")
	assert.Contains(t, gen.prompt, "line 59\n")
	assert.Equal(t, contextWindow, strings.Count(gen.prompt, "alice: "))
}

func TestSummarize_EmptyReply(t *testing.T) {
	g := newTestGemini(&fakeGenerator{reply: "  \n - \n"})

	got := g.Summarize(context.Background(), conversation(1))

	assert.Equal(t, []string{msgNoResult}, got.Points)
}

func TestSummarize_GeneratorError(t *testing.T) {
	g := newTestGemini(&fakeGenerator{err: errors.New("quota exceeded")})

	got := g.Summarize(context.Background(), conversation(1))

	require.Len(t, got.Points, 1)
	assert.Equal(t, "Failed to generate summary: quota exceeded", got.Points[0])
}

func TestUnavailable(t *testing.T) {
	assert.Equal(t, []string{msgEmpty}, Unavailable(nil).Points)
	assert.Equal(t, []string{msgUnavailable}, Unavailable(conversation(1)).Points)
}
