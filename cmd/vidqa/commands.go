package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/vidqa/internal/answer"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/vectorstore"
	"github.com/knoguchi/vidqa/internal/video"
)

func newRetrieveCmd(c *cli) *cobra.Command {
	var videoID string
	var topK int

	cmd := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Run the retrieval pipeline and print the ranked context",
		Long: `Run query expansion, candidate collection, diversification, reranking
and compression, then print the final chunks and a report per stage.

Examples:
  vidqa retrieve "how do goroutines work" --video aircAruvnKk
  vidqa retrieve "channels" --top-k 3 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.checkCount("--top-k", topK); err != nil {
				return err
			}
			app, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			filter := vectorstore.VideoFilter(video.NormalizeID(videoID))
			res := app.Pipeline.RetrieveAndRank(cmd.Context(), strings.Join(args, " "), filter, topK)
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "restrict to one video id or URL")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks (default RETRIEVAL_TOP_K)")
	return cmd
}

func newAskCmd(c *cli) *cobra.Command {
	var videoID string
	var topK int
	var stream bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question about a video",
		Long: `Retrieve context for the question from one video and generate an answer
with the configured Ollama model.

Examples:
  vidqa ask "what is a channel?" --video aircAruvnKk
  vidqa ask "summarize the scheduler part" --video https://youtu.be/aircAruvnKk --stream`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := video.NormalizeID(videoID)
			if id == "" {
				return fmt.Errorf("--video is required")
			}
			if err := c.checkCount("--top-k", topK); err != nil {
				return err
			}
			app, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			question := strings.Join(args, " ")
			res := app.Pipeline.RetrieveAndRank(ctx, question, vectorstore.VideoFilter(id), topK)
			out := cmd.OutOrStdout()

			if res.Empty() {
				ans := answer.NoContextAnswer(id)
				if c.jsonOutput {
					return printJSON(out, ans)
				}
				if stream {
					fmt.Fprintln(out, answer.NoContextStreamText(id))
					return nil
				}
				fmt.Fprintln(out, ans.Answer)
				return nil
			}

			if stream && !c.jsonOutput {
				events, err := app.Generator.GenerateAnswerStream(ctx, question, res.Chunks, id)
				if err != nil {
					return err
				}
				return printStream(out, events)
			}

			ans, err := app.Generator.GenerateAnswer(ctx, question, res.Chunks, id)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(out, ans)
			}
			printAnswer(out, ans)
			return nil
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "video id or URL (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks (default RETRIEVAL_TOP_K)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print tokens as they are generated")
	return cmd
}

func newSearchCmd(c *cli) *cobra.Command {
	var videoID string
	var limit int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run a raw similarity search against the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			if err := c.checkCount("--limit", limit); err != nil {
				return err
			}
			app, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			filter := vectorstore.VideoFilter(video.NormalizeID(videoID))
			results, err := app.Index.SimilaritySearch(cmd.Context(), strings.Join(args, " "), limit, filter)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printCandidates(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "restrict to one video id or URL")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	return cmd
}

func newMMRCmd(c *cli) *cobra.Command {
	var topK int
	var lambda float64

	cmd := &cobra.Command{
		Use:   "mmr QUERY",
		Short: "Search once and diversify the results with MMR",
		Long: `Fetch three times --top-k candidates across all videos and keep --top-k
of them by Maximal Marginal Relevance. Lower --lambda favors novelty.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lambda < 0 || lambda > 1 {
				return fmt.Errorf("%w: %v", retrieval.ErrInvalidLambda, lambda)
			}
			if err := c.checkCount("--top-k", topK); err != nil {
				return err
			}
			app, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			results := app.Pipeline.RetrieveWithMMR(cmd.Context(), strings.Join(args, " "), topK, lambda)
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printCandidates(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", retrieval.DefaultTopK, "number of results")
	cmd.Flags().Float64Var(&lambda, "lambda", retrieval.DefaultLambda, "relevance weight in [0,1]")
	return cmd
}

func newPingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the vector backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Ready(cmd.Context()); err != nil {
				return fmt.Errorf("%s backend not ready: %w", c.cfg.VectorBackend, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backend ready\n", c.cfg.VectorBackend)
			return nil
		},
	}
}
