package handlers

import (
	"net/http"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
	"github.com/HammerMeetNail/bookbuddy/internal/services"
)

type ConversationHandler struct {
	conversations services.ConversationServiceInterface
}

func NewConversationHandler(conversations services.ConversationServiceInterface) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

type ConversationResponse struct {
	Conversation  *models.Conversation `json:"conversation"`
	LatestMessage *models.Message      `json:"latest_message,omitempty"`
	UnreadCount   *int                 `json:"unread_count,omitempty"`
}

type ConversationListResponse struct {
	Conversations []models.ConversationWithUnread `json:"conversations"`
}

type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
}

type MessageResponseBody struct {
	Message *models.Message `json:"message"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type PostMessageBody struct {
	Content string `json:"content"`
}

type CloseConversationBody struct {
	Outcome models.ConversationStatus `json:"outcome"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	status := models.ConversationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ConversationStatusActive, models.ConversationStatusCompleted, models.ConversationStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	conversations, err := h.conversations.ListForUser(r.Context(), callerID, status)
	if err != nil {
		writeServiceError(w, "listing conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationListResponse{Conversations: conversations})
}

// Get returns the conversation with its newest message and the caller's unread count.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.conversations.Get(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "getting conversation", err)
		return
	}
	latest, err := h.conversations.LatestMessage(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "getting latest message", err)
		return
	}
	unread, err := h.conversations.UnreadCount(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "counting unread messages", err)
		return
	}

	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv, LatestMessage: latest, UnreadCount: &unread})
}

// Messages returns the full log oldest first, or with ?recent=N the newest N newest first.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "conversation")
	if !ok {
		return
	}

	var (
		messages []models.Message
		err      error
	)
	if r.URL.Query().Has("recent") {
		n, valid := queryInt(r, "recent", services.DefaultRecentMessages)
		if !valid {
			writeError(w, http.StatusBadRequest, "Invalid recent count")
			return
		}
		messages, err = h.conversations.RecentMessages(r.Context(), id, callerID, n)
	} else {
		messages, err = h.conversations.Messages(r.Context(), id, callerID)
	}
	if err != nil {
		writeServiceError(w, "listing messages", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageListResponse{Messages: messages})
}

func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "conversation")
	if !ok {
		return
	}

	var body PostMessageBody
	if !decodeBody(w, r, &body) {
		return
	}

	msg, err := h.conversations.PostMessage(r.Context(), id, callerID, body.Content)
	if err != nil {
		writeServiceError(w, "posting message", err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponseBody{Message: msg})
}

func (h *ConversationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "conversation")
	if !ok {
		return
	}

	count, err := h.conversations.UnreadCount(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "counting unread messages", err)
		return
	}
	writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "conversation")
	if !ok {
		return
	}

	var body CloseConversationBody
	if !decodeBody(w, r, &body) {
		return
	}

	conv, err := h.conversations.Close(r.Context(), id, callerID, body.Outcome)
	if err != nil {
		writeServiceError(w, "closing conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}
