package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirikou/kirikou/internal/agent"
	"github.com/kirikou/kirikou/internal/conversation"
	"github.com/kirikou/kirikou/internal/logging"
	"github.com/kirikou/kirikou/internal/models"
	"github.com/kirikou/kirikou/internal/ratelimit"
	"github.com/kirikou/kirikou/internal/stream"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body accepted by the chat endpoint
type ChatRequest struct {
	Messages                []models.Message `json:"messages"`
	ReturnIntermediateSteps bool             `json:"returnIntermediateSteps,omitempty"`
}

// StructuredResponse is returned instead of a stream in structured mode
type StructuredResponse struct {
	NoStreamingResponse bool     `json:"_no_streaming_response_"`
	Output              string   `json:"output"`
	Sources             []string `json:"sources"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	identity := s.identity(r)
	log := logging.WithRequest(s.logger, requestID, identity)
	w.Header().Set("X-Request-ID", requestID)

	result, err := s.limiter.Limit(r.Context(), identity)
	if err != nil {
		log.Errorw("Rate limiter unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	setRateLimitHeaders(w, result)

	if !result.Allowed {
		log.Infow("Request throttled", "reset", result.Reset)
		writeText(w, ratelimit.ThrottledMessage)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	conv, err := conversation.Normalize(req.Messages)
	if err != nil {
		log.Warnw("Rejected conversation", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Debugw("Chat request", "history", len(conv.History), "input_len", len(conv.Input))

	if s.config.ReturnIntermediateSteps || req.ReturnIntermediateSteps {
		s.respondStructured(w, r, conv, log)
		return
	}
	s.respondStream(w, r, conv, log)
}

func (s *Server) respondStructured(w http.ResponseWriter, r *http.Request, conv *conversation.Conversation, log *zap.SugaredLogger) {
	outcome, err := s.agent.Invoke(r.Context(), conv.Input, conv.History)
	if err != nil {
		log.Errorw("Agent failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sources, err := agent.ExtractSources(outcome)
	if err != nil {
		log.Errorw("Failed to extract sources", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Infow("Answered", "mode", "structured", "sources", len(sources), "duration", outcome.Duration)
	writeJSON(w, http.StatusOK, StructuredResponse{
		NoStreamingResponse: true,
		Output:              outcome.Output,
		Sources:             sources,
	})
}

// respondStream relays the answer tokens as a plain text body. Errors before
// the first token become a JSON 500; once the body has started the connection
// is aborted so the client sees a truncated response.
func (s *Server) respondStream(w http.ResponseWriter, r *http.Request, conv *conversation.Conversation, log *zap.SugaredLogger) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	start := time.Now()
	decoder := stream.NewDecoder(s.agent.ModelName(), s.agent.ToolNames())
	fragments := stream.Filter(ctx, decoder, s.agent.StreamLog(ctx, conv.Input, conv.History))

	flusher, _ := w.(http.Flusher)
	started := false
	count := 0

	for f := range fragments {
		if f.Err != nil {
			log.Errorw("Stream failed", "error", f.Err, "fragments", count)
			if !started {
				writeError(w, http.StatusInternalServerError, f.Err.Error())
				return
			}
			panic(http.ErrAbortHandler)
		}

		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, werr := io.WriteString(w, f.Text); werr != nil {
			log.Debugw("Client went away", "error", werr)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		count++
	}

	if r.Context().Err() != nil {
		log.Debugw("Client cancelled stream", "fragments", count)
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
	log.Infow("Answered", "mode", "stream", "fragments", count, "duration", time.Since(start))
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
	}
}
