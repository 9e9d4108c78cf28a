package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chatcore/internal/domain"
	"chatcore/internal/security"
)

const authDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatSocketHandler upgrades the connection, authenticates the first frame
// and then relays chat traffic through the hub.
func ChatSocketHandler(hub *Hub, tokens *security.TokenService, chats *ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chatID")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		client, err := authenticate(conn, tokens)
		if err != nil {
			log.Printf("ws auth failed: %v", err)
			_ = conn.WriteJSON(domain.Frame{Event: domain.EventError, Detail: "authentication failed"})
			return
		}

		if _, err := chats.ChatFor(r.Context(), chatID, client.userID); err != nil {
			log.Printf("ws membership check failed for %s: %v", client.userID, err)
			_ = conn.WriteJSON(domain.Frame{Event: domain.EventError, Detail: "not a participant"})
			return
		}

		hub.add(chatID, client)
		defer func() {
			hub.remove(chatID, client)
			// A vanished peer should not leave a stuck typing indicator.
			hub.broadcast(chatID, client, domain.Frame{
				Event:    domain.EventStopTyping,
				UserID:   client.userID,
				UserName: client.userName,
			})
		}()

		serve(r, hub, chats, chatID, client)
	}
}

// authenticate waits for the auth frame and validates its token.
func authenticate(conn *websocket.Conn, tokens *security.TokenService) (*wsClient, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authDeadline))
	defer conn.SetReadDeadline(time.Time{})

	var frame domain.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	if frame.Event != domain.EventAuth {
		return nil, domain.ErrUnauthorized
	}
	claims, err := tokens.Parse(frame.Token)
	if err != nil {
		return nil, err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, domain.ErrUnauthorized
	}
	name, _ := claims["name"].(string)
	return &wsClient{
		conn:     conn,
		userID:   sub,
		userName: name,
	}, nil
}

func serve(r *http.Request, hub *Hub, chats *ChatService, chatID string, client *wsClient) {
	ctx := r.Context()
	for {
		var frame domain.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws read from %s: %v", client.userID, err)
			}
			return
		}

		switch frame.Event {
		case domain.EventMessage:
			msg, err := chats.CreateMessage(ctx, chatID, client.userID, frame.Content)
			if err != nil {
				_ = client.writeJSON(domain.Frame{Event: domain.EventError, Detail: err.Error()})
				continue
			}
			hub.broadcast(chatID, nil, domain.Frame{Event: domain.EventMessage, Message: msg})

		case domain.EventTyping:
			hub.broadcast(chatID, client, domain.Frame{
				Event:    domain.EventTyping,
				UserID:   client.userID,
				UserName: client.userName,
				Typing:   true,
			})

		case domain.EventStopTyping:
			hub.broadcast(chatID, client, domain.Frame{
				Event:    domain.EventStopTyping,
				UserID:   client.userID,
				UserName: client.userName,
			})

		case domain.EventRead:
			if err := chats.MarkRead(ctx, chatID, client.userID); err != nil {
				_ = client.writeJSON(domain.Frame{Event: domain.EventError, Detail: err.Error()})
				continue
			}
			hub.broadcast(chatID, nil, domain.Frame{Event: domain.EventRead, User: client.userID})

		default:
			log.Printf("ws frame with unknown event %q from %s", frame.Event, client.userID)
		}
	}
}
