// Package summary produces short bullet-point digests of a conversation.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// contextWindow is how many of the most recent messages are summarized.
const contextWindow = 50

const (
	msgEmpty       = "No messages in this conversation yet."
	msgUnavailable = "Smart summary is unavailable (API Key missing)."
	msgNoResult    = "Could not generate a summary at this time."
	msgFailed      = "Failed to generate summary: %v"
)

const promptTemplate = `You are an intelligent assistant summarizing a chat conversation.
Summarize the following conversation in 3-5 concise bullet points.
Focus on the main topics discussed, key decisions, or interesting updates.
Do not use asterisks or dashes for bullets in your raw output, just put each point on a new line.
Keep it casual but clear.

Conversation:
%s
Summary:
`

// Summary is the digest returned to clients.
type Summary struct {
	Points    []string  `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summarizer turns a conversation into a Summary. Implementations never
// fail: problems are reported as the single summary point.
type Summarizer interface {
	Summarize(ctx context.Context, messages []chat.Message) Summary
}

// generator is the slice of the Gemini client the summarizer needs.
type generator interface {
	generate(ctx context.Context, prompt string) (string, error)
}

// Gemini summarizes conversations with the Gemini API.
type Gemini struct {
	gen    generator
	logger *slog.Logger
	now    func() time.Time
}

// NewGemini creates a Gemini summarizer. An empty apiKey yields a
// summarizer that only reports that summaries are unavailable.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gemini{logger: logger, now: time.Now}
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not set, summaries disabled")
		return g, nil
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.gen = &geminiGenerator{client: client, model: model}
	return g, nil
}

func (g *Gemini) Summarize(ctx context.Context, messages []chat.Message) Summary {
	now := g.now()
	if len(messages) == 0 {
		return Summary{Points: []string{msgEmpty}, UpdatedAt: now}
	}
	if g.gen == nil {
		return Summary{Points: []string{msgUnavailable}, UpdatedAt: now}
	}

	text, err := g.gen.generate(ctx, buildPrompt(messages))
	if err != nil {
		g.logger.Error("gemini request failed", "error", err)
		return Summary{Points: []string{fmt.Sprintf(msgFailed, err)}, UpdatedAt: now}
	}

	points := parsePoints(text)
	if len(points) == 0 {
		points = []string{msgNoResult}
	}
	return Summary{Points: points, UpdatedAt: now}
}

// Unavailable is the summary reported when no model is configured.
func Unavailable(messages []chat.Message) Summary {
	if len(messages) == 0 {
		return Summary{Points: []string{msgEmpty}, UpdatedAt: time.Now()}
	}
	return Summary{Points: []string{msgUnavailable}, UpdatedAt: time.Now()}
}

func buildPrompt(messages []chat.Message) string {
	if len(messages) > contextWindow {
		messages = messages[len(messages)-contextWindow:]
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Body)
	}
	return fmt.Sprintf(promptTemplate, b.String())
}

// parsePoints splits model output into bullet points, dropping blank lines
// and any leading bullet markers.
func parsePoints(text string) []string {
	var points []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•* "))
		if line != "" {
			points = append(points, line)
		}
	}
	return points
}

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
