package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("write response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

type credentialsRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	domain.TokenPair
	User domain.UserIdentity `json:"user"`
}

func RegisterHandler(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		user, pair, err := auth.Register(r.Context(), req.Email, req.DisplayName, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, authResponse{TokenPair: pair, User: user.UserIdentity})
	}
}

func LoginHandler(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		user, pair, err := auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authResponse{TokenPair: pair, User: user.UserIdentity})
	}
}

func RefreshHandler(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		pair, err := auth.RefreshPair(r.Context(), req.RefreshToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

func LogoutHandler(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Logout(r.Context(), callerID(r)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

type createChatRequest struct {
	ParticipantID string `json:"participant_id"`
}

func CreateChatHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createChatRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		conv, err := chats.CreateChat(r.Context(), callerID(r), req.ParticipantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func ListChatsHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := chats.ListChats(r.Context(), callerID(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func ListMessagesHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chatID")

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = n
		}
		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
				return
			}
			before = t
		}

		msgs, err := chats.ListMessages(r.Context(), chatID, callerID(r), limit, before)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func MarkReadHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := chats.MarkRead(r.Context(), chi.URLParam(r, "chatID"), callerID(r)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func EditMessageHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req editMessageRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		msg, err := chats.EditMessage(r.Context(), callerID(r), chi.URLParam(r, "messageID"), req.Content)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func DeleteMessageHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := chats.DeleteMessage(r.Context(), callerID(r), chi.URLParam(r, "messageID")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func GetUserHandler(chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := chats.LookupUser(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
