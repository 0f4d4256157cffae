package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/knoguchi/vidqa/internal/answer"
	"github.com/knoguchi/vidqa/internal/memory"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/vectorstore"
	"github.com/knoguchi/vidqa/internal/video"
)

const (
	summaryQuery       = "summary main topics key points"
	summaryTopK        = 10
	defaultSearchLimit = 10
	historyMessages    = 10
)

// Retriever runs the retrieval pipeline.
type Retriever interface {
	RetrieveAndRank(ctx context.Context, query string, filter vectorstore.Filter, topK int) retrieval.Result
}

// Generator writes answers and summaries from retrieved chunks.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, chunks []retrieval.Chunk, videoID string, opts ...answer.AskOption) (*answer.Answer, error)
	GenerateAnswerStream(ctx context.Context, question string, chunks []retrieval.Chunk, videoID string, opts ...answer.AskOption) (<-chan answer.Event, error)
	GenerateSummary(ctx context.Context, chunks []retrieval.Chunk, videoID string) (*answer.Summary, error)
}

// ReadinessFunc reports whether downstream dependencies are reachable.
type ReadinessFunc func(ctx context.Context) error

// Dependencies are the collaborators shared by HTTP handlers.
type Dependencies struct {
	Retriever Retriever
	Index     vectorstore.VectorIndex
	Generator Generator
	// Memory is optional; without it session_id is ignored.
	Memory *memory.Store
	Ready  ReadinessFunc
}

type handlers struct {
	deps   Dependencies
	logger  *slog.Logger
	topK    int
	maxTopK int
}

type questionRequest struct {
	Question       string `json:"question"`
	VideoID        string `json:"video_id"`
	IncludeSources *bool  `json:"include_sources,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

type questionResponse struct {
	Answer         string          `json:"answer"`
	Sources        []answer.Source `json:"sources"`
	Confidence     float64         `json:"confidence"`
	VideoID        string          `json:"video_id"`
	ProcessingTime float64         `json:"processing_time"`
}

type retrieveRequest struct {
	Query   string `json:"query"`
	VideoID string `json:"video_id,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

type searchResponse struct {
	Query      string                  `json:"query"`
	VideoID    string                  `json:"video_id"`
	Results    []vectorstore.Candidate `json:"results"`
	TotalFound int                     `json:"total_found"`
}

func (req *questionRequest) validate() error {
	req.Question = strings.TrimSpace(req.Question)
	req.VideoID = video.NormalizeID(req.VideoID)
	if req.Question == "" {
		return fmt.Errorf("question is required")
	}
	if req.VideoID == "" {
		return fmt.Errorf("video_id is required")
	}
	return nil
}

func (h *handlers) askQuestion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	res := h.deps.Retriever.RetrieveAndRank(ctx, req.Question, vectorstore.VideoFilter(req.VideoID), h.topK)
	h.logger.InfoContext(ctx, "question_retrieved",
		slog.String("video_id", req.VideoID),
		slog.String("retrieval_id", res.RetrievalID),
		slog.Int("chunks", len(res.Chunks)))

	var ans *answer.Answer
	if res.Empty() {
		ans = answer.NoContextAnswer(req.VideoID)
	} else {
		var err error
		ans, err = h.deps.Generator.GenerateAnswer(ctx, req.Question, res.Chunks, req.VideoID, h.history(req)...)
		if err != nil {
			h.logger.ErrorContext(ctx, "answer_generation_failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, err)
			return
		}
		h.remember(req, ans.Answer)
	}

	sources := ans.Sources
	if req.IncludeSources != nil && !*req.IncludeSources {
		sources = []answer.Source{}
	}

	writeJSON(w, http.StatusOK, questionResponse{
		Answer:         ans.Answer,
		Sources:        sources,
		Confidence:     ans.Confidence,
		VideoID:        req.VideoID,
		ProcessingTime: time.Since(start).Seconds(),
	})
}

func (h *handlers) askQuestionStream(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	ctx := r.Context()
	res := h.deps.Retriever.RetrieveAndRank(ctx, req.Question, vectorstore.VideoFilter(req.VideoID), h.topK)

	var events <-chan answer.Event
	if !res.Empty() {
		var err error
		events, err = h.deps.Generator.GenerateAnswerStream(ctx, req.Question, res.Chunks, req.VideoID, h.history(req)...)
		if err != nil {
			h.logger.ErrorContext(ctx, "answer_stream_failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(e answer.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if events == nil {
		send(answer.Event{Type: answer.EventToken, Content: answer.NoContextStreamText(req.VideoID)})
		send(answer.Event{Type: answer.EventSources, Content: []answer.Source{}})
		send(answer.Event{Type: answer.EventDone, Content: ""})
		return
	}

	var full strings.Builder
	failed := false
	for e := range events {
		switch e.Type {
		case answer.EventToken:
			if s, ok := e.Content.(string); ok {
				full.WriteString(s)
			}
		case answer.EventError:
			failed = true
		}
		if !send(e) {
			return
		}
	}
	if !failed {
		h.remember(req, full.String())
	}
}

func (h *handlers) videoSummary(w http.ResponseWriter, r *http.Request) {
	videoID := video.NormalizeID(chi.URLParam(r, "videoID"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video id is required"))
		return
	}

	ctx := r.Context()
	res := h.deps.Retriever.RetrieveAndRank(ctx, summaryQuery, vectorstore.VideoFilter(videoID), summaryTopK)
	summary, err := h.deps.Generator.GenerateSummary(ctx, res.Chunks, videoID)
	if err != nil {
		h.logger.ErrorContext(ctx, "summary_generation_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) videoSearch(w http.ResponseWriter, r *http.Request) {
	videoID := video.NormalizeID(chi.URLParam(r, "videoID"))
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		if n > h.maxTopK {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must not exceed %d", h.maxTopK))
			return
		}
		limit = n
	}

	results, err := h.deps.Index.SimilaritySearch(r.Context(), query, limit, vectorstore.VideoFilter(videoID))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "video_search_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if results == nil {
		results = []vectorstore.Candidate{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:      query,
		VideoID:    videoID,
		Results:    results,
		TotalFound: len(results),
	})
}

func (h *handlers) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	if req.TopK > h.maxTopK {
		writeError(w, http.StatusBadRequest, fmt.Errorf("top_k must not exceed %d", h.maxTopK))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}
	res := h.deps.Retriever.RetrieveAndRank(r.Context(), req.Query, vectorstore.VideoFilter(video.NormalizeID(req.VideoID)), topK)
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) clearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.deps.Memory != nil {
		h.deps.Memory.Clear(sessionID)
		h.logger.DebugContext(r.Context(), "session_cleared",
			slog.String("session_id", sessionID),
			slog.Int("active_sessions", h.deps.Memory.Len()))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) history(req questionRequest) []answer.AskOption {
	if h.deps.Memory == nil || req.SessionID == "" {
		return nil
	}
	msgs := h.deps.Memory.Recent(req.SessionID, req.VideoID, historyMessages)
	if len(msgs) == 0 {
		return nil
	}
	return []answer.AskOption{answer.WithHistory(msgs)}
}

func (h *handlers) remember(req questionRequest, reply string) {
	if h.deps.Memory == nil {
		return
	}
	h.deps.Memory.AddTurn(req.SessionID, req.VideoID, req.Question, reply)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
