package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/valmeras/chat-gateway/internal/chat"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/httpapi/middleware"
	"github.com/valmeras/chat-gateway/internal/identity"
)

type postChatReq struct {
	ID                     string         `json:"id" binding:"required"`
	Message                *chat.Message  `json:"message"`
	Messages               []chat.Message `json:"messages"`
	SelectedChatModel      string         `json:"selectedChatModel" binding:"required"`
	SelectedVisibilityType string         `json:"selectedVisibilityType"`
}

// PostChat runs one chat turn and streams the result as SSE. Pre-stream
// failures (quota, ownership, moderation gate, model selection) answer
// with the JSON envelope; once streaming starts, failures become inline
// error events.
func (h *Handler) PostChat(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}

	var req postChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "invalid json")
		return
	}

	if h.Cfg.HFAPIKey == "" {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(),
			"HF_API_KEY is missing from the environment")
		return
	}

	ctx := c.Request.Context()
	turn, err := h.ChatSvc.BeginTurn(ctx, p, chat.TurnRequest{
		ChatID:     req.ID,
		Visibility: req.SelectedVisibilityType,
		ModelID:    req.SelectedChatModel,
		Message:    req.Message,
		Messages:   req.Messages,
		Location:   requestLocation(c),
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	// Register a resumable stream; registrar failure never affects the
	// live connection.
	streamID := ""
	if h.Streams != nil {
		sid := uuid.NewString()
		if err := h.ChatSvc.RegisterStream(ctx, turn.ChatID(), sid); err != nil {
			log.Printf("[PostChat] stream registration failed chat=%s err=%v", turn.ChatID(), err)
		} else {
			streamID = sid
		}
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	bufferChunk := func(data string) {
		if streamID == "" {
			return
		}
		if err := h.Streams.Append(ctx, streamID, data); err != nil {
			log.Printf("[PostChat] stream append failed stream=%s err=%v", streamID, err)
			streamID = "" // stop trying for this turn
		}
	}

	events, errs := turn.Stream(ctx)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// The turn may have buffered a failure right before
				// closing; surface it instead of a clean done.
				select {
				case err := <-errs:
					if err != nil {
						log.Printf("[PostChat] turn failed chat=%s request_id=%s err=%v",
							turn.ChatID(), middleware.RequestIDFrom(c), err)
						writeJSON("error", gin.H{"type": "error", "message": common.UserMessage(err)})
						return
					}
				default:
				}
				writeJSON("done", gin.H{"type": "done"})
				return
			}
			switch ev.Type {
			case chat.EventChunk:
				writeJSON("chunk", gin.H{"type": "chunk", "delta": ev.Data})
				bufferChunk(ev.Data)
			case chat.EventNotice:
				writeJSON("notice", gin.H{"type": "notice", "message": ev.Data})
			case chat.EventTitle:
				writeJSON("title", gin.H{"type": "title", "title": ev.Data})
			case chat.EventModeration:
				writeJSON("moderation", gin.H{"type": "moderation", "message": ev.Data})
			case chat.EventError:
				writeJSON("error", gin.H{"type": "error", "message": ev.Data})
			}

		case err, open := <-errs:
			if !open {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			log.Printf("[PostChat] turn failed chat=%s request_id=%s err=%v",
				turn.ChatID(), middleware.RequestIDFrom(c), err)
			writeJSON("error", gin.H{"type": "error", "message": common.UserMessage(err)})
			return

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}

// DeleteChat removes a chat. Guests cannot delete chats; only the owner
// of the chat may delete it.
func (h *Handler) DeleteChat(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok || p.Kind != identity.KindRegistered {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(),
			"sign in to delete chats")
		return
	}

	id := c.Query("id")
	if id == "" {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "id required")
		return
	}

	deleted, err := h.ChatSvc.DeleteChat(c.Request.Context(), p, id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, deleted)
}

// ListChatMessages pages a chat's history newest first, owner only.
func (h *Handler) ListChatMessages(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}

	chatID := c.Param("id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "invalid before timestamp")
			return
		}
		before = t
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), p, chatID, limit, before)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var next string
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	common.OK(c, gin.H{"messages": msgs, "next_before": next})
}

// ResumeStream replays the buffered chunks of the chat's newest
// registered stream so a disconnected client can catch up.
func (h *Handler) ResumeStream(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}
	if h.Streams == nil {
		common.Fail(c, http.StatusNotFound, common.KindNotFound.BusinessCode(), "resumable streaming is disabled")
		return
	}

	chatID := c.Param("id")
	offset, _ := strconv.ParseInt(c.Query("offset"), 10, 64)

	ctx := c.Request.Context()
	streamID, err := h.ChatSvc.LatestStreamID(ctx, p, chatID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	chunks, err := h.Streams.Read(ctx, streamID, offset)
	if err != nil {
		log.Printf("[ResumeStream] read failed stream=%s err=%v", streamID, err)
		common.Fail(c, http.StatusNotFound, common.KindNotFound.BusinessCode(), "stream buffer expired")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	for _, chunkData := range chunks {
		b, _ := json.Marshal(gin.H{"type": "chunk", "delta": chunkData})
		fmt.Fprintf(c.Writer, "event: chunk\ndata: %s\n\n", string(b))
	}
	fmt.Fprintf(c.Writer, "event: done\ndata: {\"type\":\"done\"}\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// requestLocation reads the geo hints a fronting proxy attaches to the
// request. All fields optional.
func requestLocation(c *gin.Context) chat.Location {
	return chat.Location{
		City:      c.GetHeader("X-Geo-City"),
		Country:   c.GetHeader("X-Geo-Country"),
		Latitude:  c.GetHeader("X-Geo-Latitude"),
		Longitude: c.GetHeader("X-Geo-Longitude"),
	}
}

// ModerateMessage flags a message by hand; the service replaces its
// content with the moderation notice.
func (h *Handler) ModerateMessage(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}

	m, err := h.ChatSvc.ModerateMessage(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, m)
}

// DeleteTrailingMessages removes a message and everything after it in its
// chat so the client can edit and regenerate.
func (h *Handler) DeleteTrailingMessages(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}

	if err := h.ChatSvc.DeleteTrailingMessages(c.Request.Context(), p, c.Param("id")); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"deleted_from": c.Param("id")})
}

type updateVisibilityReq struct {
	Visibility string `json:"visibility" binding:"required"`
}

func (h *Handler) UpdateChatVisibility(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
		return
	}

	var req updateVisibilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "visibility required")
		return
	}

	updated, err := h.ChatSvc.UpdateVisibility(c.Request.Context(), p, c.Param("id"), req.Visibility)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, updated)
}

// ListModels exposes the static catalog, auto sentinel included.
func (h *Handler) ListModels(c *gin.Context) {
	common.OK(c, gin.H{
		"auto":   "auto",
		"models": h.Catalog.Models(),
	})
}
