// Package api exposes the webhook and REST surface over chi, plus the MCP
// tool server.
package api

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
	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/analytics"
	"github.com/kalambet/remembot/internal/intake"
	"github.com/kalambet/remembot/internal/memory"
	"github.com/kalambet/remembot/internal/storage"
)

const maxWebhookBodySize = 1 << 20 // Twilio form payloads are small

const replyProcessingError = "Sorry, I encountered an error processing your message. Please try again."

// MessageHandler processes one inbound channel message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg intake.IncomingMessage) (string, error)
}

// MemoryAPI is the memory surface used by the REST and MCP layers.
type MemoryAPI interface {
	Create(ctx context.Context, user storage.User, interactionID, content, memType string, tags []string) (storage.Memory, error)
	Search(ctx context.Context, user storage.User, query string, limit int) ([]memory.EnrichedMemory, error)
	List(ctx context.Context, user storage.User, limit int) ([]storage.Memory, error)
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Store     *storage.Store
	Handler   MessageHandler
	Memories  MemoryAPI
	Analytics *analytics.Service
	// LocalUser is the channel id the REST routes operate on; they carry
	// no authentication of their own and exist for local inspection.
	LocalUser string
}

// NewAppHandler builds the chi router with the webhook and REST routes.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", handleWebhook(deps))
	r.Get("/", handleValidation)
	r.Post("/", handleValidation)
	r.Get("/health", handleHealth)

	r.Get("/memories", handleSearchMemories(deps))
	r.Post("/memories", handleCreateMemory(deps))
	r.Get("/memories/list", handleListMemories(deps))
	r.Get("/interactions/recent", handleRecentInteractions(deps))
	r.Get("/analytics/summary", handleAnalyticsSummary(deps))

	return r
}

func handleWebhook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form payload", http.StatusBadRequest)
			return
		}

		msg, err := messageFromForm(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply, err := deps.Handler.HandleMessage(r.Context(), msg)
		if err != nil {
			// The channel expects a well-formed TwiML reply even on
			// failure; the user gets an apology, the log gets the cause.
			slog.Error("webhook processing failed", "channel_message_id", msg.ChannelMessageID, "error", err)
			reply = replyProcessingError
		}
		writeTwiML(w, reply)
	}
}

// messageFromForm maps the Twilio webhook form fields onto an
// IncomingMessage. Twilio numbers attachments MediaUrl0..MediaUrl9.
func messageFromForm(r *http.Request) (intake.IncomingMessage, error) {
	msg := intake.IncomingMessage{
		ChannelMessageID: r.PostForm.Get("MessageSid"),
		From:             r.PostForm.Get("From"),
		Body:             r.PostForm.Get("Body"),
	}
	if msg.ChannelMessageID == "" || msg.From == "" {
		return intake.IncomingMessage{}, fmt.Errorf("missing MessageSid or From")
	}

	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	for i := 0; i < numMedia && i < 10; i++ {
		url := r.PostForm.Get(fmt.Sprintf("MediaUrl%d", i))
		if url == "" {
			continue
		}
		msg.Media = append(msg.Media, intake.MediaItem{
			URL:         url,
			ContentType: r.PostForm.Get(fmt.Sprintf("MediaContentType%d", i)),
		})
	}
	return msg, nil
}

var twimlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprintf(w, "<Response><Message>%s</Message></Response>", twimlEscaper.Replace(message))
}

func handleValidation(w http.ResponseWriter, r *http.Request) {
	writeTwiML(w, "Memory Saved")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "remembot",
		"status":  "running",
	})
}

type memoryResponse struct {
	ID            string   `json:"id"`
	Mem0ID        string   `json:"mem0_id"`
	Content       string   `json:"content"`
	Type          string   `json:"type"`
	Tags          []string `json:"tags"`
	InteractionID string   `json:"interaction_id,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func handleSearchMemories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "" {
			httpError(w, http.StatusBadRequest, "query is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to resolve user: %v", err)
			return
		}

		results, err := deps.Memories.Search(r.Context(), user, query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}

		out := make([]memoryResponse, len(results))
		for i, m := range results {
			out[i] = memoryResponse{
				ID:            m.LocalID,
				Mem0ID:        m.Mem0ID,
				Content:       m.Content,
				Type:          m.Type,
				Tags:          m.Tags,
				InteractionID: m.InteractionID,
				CreatedAt:     m.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, out)
	}
}

type createMemoryRequest struct {
	Content string   `json:"content"`
	Type    string   `json:"memory_type"`
	Tags    []string `json:"tags"`
}

func handleCreateMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		var req createMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to resolve user: %v", err)
			return
		}

		// API-created memories still go through the ledger so every memory
		// traces back to an interaction.
		interaction, err := deps.Store.CreateInteraction(storage.Interaction{
			ID:               uuid.New().String(),
			UserID:           user.ID,
			ChannelMessageID: "api-" + uuid.New().String(),
			Type:             storage.InteractionText,
			Content:          req.Content,
			CreatedAt:        time.Now().UTC(),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to record interaction: %v", err)
			return
		}

		m, err := deps.Memories.Create(r.Context(), user, interaction.ID, req.Content, req.Type, req.Tags)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to create memory: %v", err)
			return
		}
		writeJSON(w, memoryFromRow(m))
	}
}

func handleListMemories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to resolve user: %v", err)
			return
		}

		memories, err := deps.Memories.List(r.Context(), user, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list memories: %v", err)
			return
		}

		out := make([]memoryResponse, len(memories))
		for i, m := range memories {
			out[i] = memoryFromRow(m)
		}
		writeJSON(w, out)
	}
}

type interactionResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Transcript string `json:"transcript,omitempty"`
	Metadata   string `json:"metadata"`
	CreatedAt  string `json:"created_at"`
}

func handleRecentInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to resolve user: %v", err)
			return
		}

		interactions, err := deps.Store.GetRecentInteractions(user.ID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list interactions: %v", err)
			return
		}

		out := make([]interactionResponse, len(interactions))
		for i, ix := range interactions {
			out[i] = interactionResponse{
				ID:         ix.ID,
				Type:       string(ix.Type),
				Content:    ix.Content,
				Transcript: ix.Transcript,
				Metadata:   ix.MetadataJSON,
				CreatedAt:  ix.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, out)
	}
}

func handleAnalyticsSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to resolve user: %v", err)
			return
		}

		summary, err := deps.Analytics.Summarize(user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to build summary: %v", err)
			return
		}
		writeJSON(w, summary)
	}
}

func memoryFromRow(m storage.Memory) memoryResponse {
	var tags []string
	if m.Tags != "" {
		json.Unmarshal([]byte(m.Tags), &tags)
	}
	return memoryResponse{
		ID:            m.ID,
		Mem0ID:        m.Mem0ID,
		Content:       m.Content,
		Type:          m.Type,
		Tags:          tags,
		InteractionID: m.InteractionID,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
