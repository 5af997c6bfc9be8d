package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const maxChatBodyBytes = 1 << 20

type chatRequest struct {
	DocumentID string `json:"documentId"`
	UserText   string `json:"userText"`
	Stream     bool   `json:"stream"`
}

type chatResponse struct {
	AssistantText string   `json:"assistantText"`
	CitedChunkIDs []string `json:"citedChunkIds"`
}

func (rt *Router) postChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.UserText) == "" {
		writeBadRequest(w, "documentId and userText are required")
		return
	}

	start := time.Now()
	if req.Stream {
		rt.streamChat(w, r, req, start)
		return
	}

	reply, err := rt.deps.Chat.PostMessage(r.Context(), req.DocumentID, req.UserText, nil)
	if err != nil {
		rt.recordChat(err, 0, start)
		writeError(w, err)
		return
	}
	rt.recordChat(nil, len(reply.CitedChunkIDs), start)
	writeJSON(w, http.StatusOK, toChatResponse(reply))
}

// streamChat sends tokens as SSE data events and ends with a done or error event.
// Headers are committed on the first token, so failures before it still get a plain JSON error.
func (rt *Router) streamChat(w http.ResponseWriter, r *http.Request, req chatRequest, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming is not supported"})
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	reply, err := rt.deps.Chat.PostMessage(r.Context(), req.DocumentID, req.UserText, func(token string) error {
		begin()
		if err := writeSSE(w, "", map[string]string{"token": token}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		rt.recordChat(err, 0, start)
		if !started {
			writeError(w, err)
			return
		}
		_ = writeSSE(w, "error", errorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))})
		flusher.Flush()
		return
	}

	rt.recordChat(nil, len(reply.CitedChunkIDs), start)
	begin()
	_ = writeSSE(w, "done", toChatResponse(reply))
	flusher.Flush()
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func toChatResponse(reply *domain.ChatReply) chatResponse {
	cited := reply.CitedChunkIDs
	if cited == nil {
		cited = []string{}
	}
	return chatResponse{AssistantText: reply.AssistantText, CitedChunkIDs: cited}
}

func (rt *Router) recordChat(err error, retrieved int, start time.Time) {
	if rt.deps.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if errors.Is(err, domain.ErrDocumentNotFound) {
			outcome = "NotFound"
		}
	}
	rt.deps.Metrics.RecordChatTurn(serviceName, outcome, retrieved, time.Since(start))
}

func (rt *Router) getChatSession(w http.ResponseWriter, r *http.Request) {
	session, err := rt.deps.Chat.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) exportReport(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.URL.Query().Get("docId"))
	if documentID == "" {
		writeBadRequest(w, "query parameter docId is required")
		return
	}

	report, err := rt.deps.Exporter.Export(r.Context(), documentID)
	if err != nil {
		rt.recordExport(err)
		writeError(w, err)
		return
	}
	rt.recordExport(nil)

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Body)
}

func (rt *Router) recordExport(err error) {
	if rt.deps.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	rt.deps.Metrics.RecordExport(serviceName, outcome)
}
