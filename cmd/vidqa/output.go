package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/knoguchi/vidqa/internal/answer"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/textutil"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

const previewLength = 80

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if textutil.Len(text) <= previewLength {
		return text
	}
	return textutil.Truncate(text, previewLength) + "..."
}

func printResult(w io.Writer, res retrieval.Result) {
	fmt.Fprintf(w, "retrieval %s\n\n", res.RetrievalID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tOUTCOME\tIN\tOUT\tERROR")
	for _, s := range res.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Stage, s.Outcome, s.In, s.Out, s.Err)
	}
	tw.Flush()
	fmt.Fprintln(w)

	if res.Empty() {
		fmt.Fprintln(w, "no relevant information found")
		return
	}

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tRERANK\tTIMESTAMP\tTEXT")
	for i, c := range res.Chunks {
		text := preview(c.Text)
		if c.Compressed {
			text += " [truncated]"
		}
		fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%s\t%s\n", i+1, c.Score, c.RerankScore, c.MetadataString("timestamp"), text)
	}
	tw.Flush()
}

func printCandidates(w io.Writer, results []vectorstore.Candidate) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tVIDEO\tTIMESTAMP\tTEXT")
	for i, c := range results {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s\n", i+1, c.Score, c.MetadataString("video_id"), c.MetadataString("timestamp"), preview(c.Text))
	}
	tw.Flush()
}

func printAnswer(w io.Writer, ans *answer.Answer) {
	fmt.Fprintln(w, ans.Answer)
	fmt.Fprintf(w, "\nconfidence %.2f\n", ans.Confidence)
	printSources(w, ans.Sources)
}

func printSources(w io.Writer, sources []answer.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nsources:")
	for _, s := range sources {
		fmt.Fprintf(w, "  [%d] %s %s\n", s.SourceID, s.Timestamp, preview(s.Text))
	}
}

// printStream writes tokens as they arrive and the sources at the end.
func printStream(w io.Writer, events <-chan answer.Event) error {
	for e := range events {
		switch e.Type {
		case answer.EventToken:
			fmt.Fprint(w, e.Content)
		case answer.EventSources:
			fmt.Fprintln(w)
			if sources, ok := e.Content.([]answer.Source); ok {
				printSources(w, sources)
			}
		case answer.EventError:
			fmt.Fprintln(w)
			return fmt.Errorf("generation failed: %v", e.Content)
		}
	}
	return nil
}
