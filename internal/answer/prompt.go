package answer

import (
	"fmt"
	"strings"

	"github.com/knoguchi/vidqa/internal/retrieval"
)

const systemPrompt = `You are a helpful assistant that answers questions about YouTube videos.

Instructions:
1. Answer from the video transcript excerpts first and cite them as [Source N].
2. If the excerpts do not cover the question, you may use general knowledge, and say so.
3. Keep answers concise and accurate.`

// FormatContext renders chunks as numbered sources, one paragraph each.
func FormatContext(chunks []retrieval.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		if ts := c.MetadataString("timestamp"); ts != "" {
			parts[i] = fmt.Sprintf("[Source %d - %s]: %s", i+1, ts, c.Text)
		} else {
			parts[i] = fmt.Sprintf("[Source %d]: %s", i+1, c.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func answerPrompt(question, contextText, videoID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Video ID: %s\n\n", videoID)
	sb.WriteString("VIDEO TRANSCRIPT CONTEXT:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n\nANSWER:")
	return sb.String()
}

func summaryPrompt(contextText, videoID string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the YouTube video based on the transcript excerpts.\n")
	fmt.Fprintf(&sb, "Video ID: %s\n\n", videoID)
	sb.WriteString("Transcript context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nStructure the summary as: 1) main topic, 2) key points as \"- \" bullets, ")
	sb.WriteString("3) important details, 4) conclusion.\n\nSummary:")
	return sb.String()
}
