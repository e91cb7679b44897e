package server

import (
	"errors"
	"net/http"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/store"
	"github.com/Tyrowin/tickchat/internal/summary"
)

type checkUserResponse struct {
	Exists bool          `json:"exists"`
	Status chat.Presence `json:"status"`
}

type conversationsResponse struct {
	Conversations map[string][]chat.Message `json:"conversations"`
}

type deleteChatResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type deleteMessageResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.coord.UserStatus(r.Context(), r.PathValue("username"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User does not exist")
		return
	}
	if err != nil {
		s.internalError(w, "check user", err)
		return
	}
	writeJSON(w, http.StatusOK, checkUserResponse{Exists: true, Status: user.Status})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.coord.Conversations(r.Context(), r.PathValue("username"))
	if err != nil {
		s.internalError(w, "load conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: conversations})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	mode, err := chat.ParseDeleteMode(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.coord.DeleteConversation(r.Context(), r.PathValue("user1"), r.PathValue("user2"), mode); err != nil {
		s.internalError(w, "delete conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteChatResponse{Status: "success", Action: string(mode)})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.coord.DeleteMessage(r.Context(), chat.MessageID(r.PathValue("id")))
	if err != nil {
		s.internalError(w, "delete message", err)
		return
	}
	status := "success"
	if !deleted {
		status = "ignored"
	}
	writeJSON(w, http.StatusOK, deleteMessageResponse{Status: status})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.coord.Conversation(r.Context(), r.PathValue("user1"), r.PathValue("user2"), s.cfg.HistoryLimit)
	if err != nil {
		s.internalError(w, "load conversation", err)
		return
	}

	var digest summary.Summary
	if s.summarizer != nil {
		digest = s.summarizer.Summarize(r.Context(), msgs)
	} else {
		digest = summary.Unavailable(msgs)
	}
	writeJSON(w, http.StatusOK, digest)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
