// Package answer turns retrieved transcript chunks into answers and summaries.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/vidqa/internal/llm"
	"github.com/knoguchi/vidqa/internal/memory"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/textutil"
)

const (
	// NotFoundAnswer replaces an empty model reply.
	NotFoundAnswer = "I cannot find that information in the video."

	// NoSummary replaces an empty summary.
	NoSummary = "No summary available."

	maxKeyPoints   = 5
	sourcePreview  = 200
	minSentenceLen = 30
)

// Source is a numbered reference to a chunk used as context.
type Source struct {
	SourceID  int     `json:"source_id"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	ChunkType string  `json:"chunk_type"`
	Score     float64 `json:"score"`
}

// Answer is a generated reply to a question about a video.
type Answer struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
	VideoID    string   `json:"video_id"`
	Model      string   `json:"model,omitempty"`
}

// Summary is a generated overview of a video.
type Summary struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	VideoID   string   `json:"video_id"`
	Model     string   `json:"model,omitempty"`
}

// EventType labels a streamed answer event.
type EventType string

const (
	EventToken   EventType = "token"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one server-sent event of a streamed answer.
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

// Generator writes answers with a chat model.
type Generator struct {
	client      llm.LLM
	model       string
	temperature float32
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator over client.
func NewGenerator(client llm.LLM, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		temperature: llm.DefaultTemperature,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AskOption adjusts a single question.
type AskOption func(*askOptions)

type askOptions struct {
	history []memory.Message
}

// WithHistory includes earlier turns of the session.
func WithHistory(msgs []memory.Message) AskOption {
	return func(o *askOptions) { o.history = msgs }
}

// GenerateAnswer answers question from chunks, citing them as numbered sources.
func (g *Generator) GenerateAnswer(ctx context.Context, question string, chunks []retrieval.Chunk, videoID string, opts ...AskOption) (*Answer, error) {
	contextText := FormatContext(chunks)
	text, err := g.client.Generate(ctx, answerPrompt(question, contextText, videoID), g.generateOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = NotFoundAnswer
	}

	return &Answer{
		Answer:     text,
		Sources:    Sources(chunks),
		Confidence: Confidence(text, contextText),
		VideoID:    videoID,
		Model:      g.model,
	}, nil
}

// GenerateAnswerStream streams answer tokens, then the sources, then a done
// event. A failure mid-stream ends with an error event.
func (g *Generator) GenerateAnswerStream(ctx context.Context, question string, chunks []retrieval.Chunk, videoID string, opts ...AskOption) (<-chan Event, error) {
	contextText := FormatContext(chunks)
	tokens, err := g.client.GenerateStream(ctx, answerPrompt(question, contextText, videoID), g.generateOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to start answer stream: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		send := func(e Event) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- e:
				return true
			}
		}

		for chunk := range tokens {
			if chunk.Error != nil {
				g.logger.ErrorContext(ctx, "answer_stream_failed", slog.String("error", chunk.Error.Error()))
				send(Event{Type: EventError, Content: chunk.Error.Error()})
				return
			}
			if chunk.Token != "" && !send(Event{Type: EventToken, Content: chunk.Token}) {
				return
			}
		}

		if send(Event{Type: EventSources, Content: Sources(chunks)}) {
			send(Event{Type: EventDone, Content: ""})
		}
	}()

	return events, nil
}

// GenerateSummary writes a structured summary of a video from chunks.
func (g *Generator) GenerateSummary(ctx context.Context, chunks []retrieval.Chunk, videoID string) (*Summary, error) {
	text, err := g.client.Generate(ctx, summaryPrompt(FormatContext(chunks), videoID), g.generateOptions(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	text = strings.TrimSpace(text)
	out := &Summary{
		Summary:   text,
		KeyPoints: KeyPoints(text),
		VideoID:   videoID,
		Model:     g.model,
	}
	if out.Summary == "" {
		out.Summary = NoSummary
	}
	return out, nil
}

func (g *Generator) generateOptions(opts []AskOption) llm.GenerateOptions {
	var o askOptions
	for _, opt := range opts {
		opt(&o)
	}

	history := make([]llm.Message, 0, len(o.history))
	for _, m := range o.history {
		history = append(history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	return llm.GenerateOptions{
		Model:        g.model,
		SystemPrompt: systemPrompt,
		History:      history,
		Temperature:  g.temperature,
	}
}

// NoContextAnswer is returned when retrieval found nothing for the video.
func NoContextAnswer(videoID string) *Answer {
	return &Answer{
		Answer: fmt.Sprintf("I couldn't find relevant information in the video transcript. "+
			"Please make sure the video (ID: %s) has been processed first.", videoID),
		Sources:    []Source{},
		Confidence: 0,
		VideoID:    videoID,
	}
}

// NoContextStreamText is the single token streamed when retrieval found
// nothing for the video.
func NoContextStreamText(videoID string) string {
	return fmt.Sprintf("I couldn't find any processed content for this video (ID: %s). "+
		"Please make sure the video has been processed first by clicking 'Process Video' in the extension.", videoID)
}

// Sources lists chunks as numbered sources with a 200-character preview.
func Sources(chunks []retrieval.Chunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		text := c.Text
		if textutil.Len(text) > sourcePreview {
			text = textutil.Truncate(text, sourcePreview) + "..."
		}
		chunkType := c.MetadataString("chunk_type")
		if chunkType == "" {
			chunkType = "paragraph"
		}
		out[i] = Source{
			SourceID:  i + 1,
			Text:      text,
			Timestamp: c.MetadataString("timestamp"),
			ChunkType: chunkType,
			Score:     c.Score,
		}
	}
	return out
}

// Confidence estimates grounding as the share of answer words found in the
// context, mapped onto [0.3, 0.9].
func Confidence(answer, contextText string) float64 {
	aw := textutil.WordSet(answer)
	if len(aw) == 0 {
		return 0.3
	}
	overlap := textutil.Intersection(aw, textutil.WordSet(contextText))
	return min(0.9, 0.3+float64(overlap)/float64(len(aw))*0.6)
}

// KeyPoints extracts up to five bullet points from a summary, falling back
// to its longer sentences when it has no bullets.
func KeyPoints(summary string) []string {
	points := []string{}
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		for _, bullet := range []string{"- ", "* ", "• "} {
			if rest, ok := strings.CutPrefix(line, bullet); ok {
				points = append(points, strings.TrimSpace(rest))
				break
			}
		}
	}

	if len(points) == 0 {
		for _, s := range strings.Split(summary, ".") {
			if s = strings.TrimSpace(s); textutil.Len(s) > minSentenceLen {
				points = append(points, s)
			}
		}
	}

	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	return points
}
