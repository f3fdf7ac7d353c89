package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/services/inference"
	"github.com/upb/llm-gateway/utils"
)

// ChatHandler handles chat completion HTTP requests
type ChatHandler struct {
	pipeline *inference.Service
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(pipeline *inference.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// HandleChatCompletion handles POST /chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.ProcessChatCompletion(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleChatStream handles POST /chat/completions/stream. Chunks are written
// as server-sent events, one data line per chunk, with [DONE] terminating
// the stream.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		_ = utils.WriteInternalServerError(w, "streaming unsupported")
		return
	}

	stream, _, err := h.pipeline.ProcessChatStream(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	requestID := middleware.GetRequestIDFromContext(r.Context())
	for {
		chunk, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			// headers are gone; emit the error as a terminal event
			h.logger.Warn("stream aborted",
				zap.String("request_id", requestID),
				zap.Error(recvErr))
			payload, _ := json.Marshal(map[string]string{"error": recvErr.Error()})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			break
		}

		payload, err := json.Marshal(chunk)
		if err != nil {
			h.logger.Error("failed to marshal chunk", zap.Error(err))
			break
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *ChatHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*inference.ChatRequest, bool) {
	// pre-filled default so an omitted temperature becomes 0.7 while an
	// explicit 0 survives decoding
	req := inference.ChatRequest{Temperature: 0.7}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return nil, false
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return nil, false
	}
	return &req, true
}
