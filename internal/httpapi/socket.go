package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/metrics"
	"SocialChatServer/internal/realtime"
	"SocialChatServer/internal/service"

	"github.com/gorilla/websocket"
)

const (
	socketReadLimit    = 64 << 10
	socketEventTimeout = 10 * time.Second
)

// handleSocket authenticates before upgrading, binds the connection to its
// user in the push registry and dispatches client events until the socket
// closes.
func (a *api) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	u, _, err := a.authSvc.Authenticate(r.Context(), token)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	noteUser(r.Context(), u.ID)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		a.logger.Debug("websocket upgrade failed", "err", err, "user_id", u.ID)
		return
	}

	conn := realtime.NewConnection(u.ID, ws)
	conn.Start()
	a.push.Bind(conn, u.ID)
	a.logger.Info("push connection opened", "user_id", u.ID, "conn_id", conn.ID())
	defer func() {
		a.push.Unbind(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
		a.logger.Info("push connection closed", "user_id", u.ID, "conn_id", conn.ID())
	}()

	ws.SetReadLimit(socketReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(realtime.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(realtime.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				a.logger.Debug("push read ended", "err", err, "user_id", u.ID)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(realtime.PongWait))

		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			a.reply(conn, realtime.EventError, realtime.ErrorPayload{Message: "invalid frame"})
			metrics.ClientEvent("invalid", "error")
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), socketEventTimeout)
		err = a.dispatch(ctx, conn, u, frame)
		cancel()

		outcome := "ok"
		if err != nil {
			outcome = "error"
			a.reply(conn, realtime.EventError, realtime.ErrorPayload{Message: a.socketErrorMessage(err, u.ID, frame.Event)})
		}
		metrics.ClientEvent(frame.Event, outcome)
	}
}

var errUnknownEvent = errors.New("unknown event")

func (a *api) dispatch(ctx context.Context, conn *realtime.Connection, u domain.User, frame realtime.Frame) error {
	switch frame.Event {
	case realtime.EventSendMessage:
		var p realtime.SendMessagePayload
		if err := decodeFrameData(frame, &p); err != nil {
			return err
		}
		m, err := a.messagesSvc.Send(ctx, u, service.SendMessageInput{
			ReceiverID:  p.ReceiverID,
			Content:     p.Content,
			MessageType: p.MessageType,
		})
		if err != nil {
			return err
		}
		a.reply(conn, realtime.EventMessageSent, realtime.MessageSentFrom(m))
		return nil

	case realtime.EventGetChatHistory:
		var p realtime.ChatHistoryRequest
		if err := decodeFrameData(frame, &p); err != nil {
			return err
		}
		history, friend, err := a.messagesSvc.History(ctx, u.ID, p.FriendID, domain.Page{Page: p.Page, Limit: p.Limit})
		if err != nil {
			return err
		}
		a.reply(conn, realtime.EventChatHistory, realtime.ChatHistory{
			Messages: history.Messages,
			Friend:   friend,
			Page:     history.Page.Page,
			HasMore:  history.HasMore(),
		})
		return nil

	case realtime.EventMarkMessagesRead:
		var p realtime.FriendPayload
		if err := decodeFrameData(frame, &p); err != nil {
			return err
		}
		if _, err := a.messagesSvc.MarkRead(ctx, u.ID, p.FriendID); err != nil {
			return err
		}
		a.reply(conn, realtime.EventMessagesMarkedRead, realtime.MessagesMarkedRead{FriendID: p.FriendID})
		return nil

	case realtime.EventTypingStart, realtime.EventTypingStop:
		var p realtime.ReceiverPayload
		if err := decodeFrameData(frame, &p); err != nil {
			return err
		}
		if frame.Event == realtime.EventTypingStart {
			return a.messagesSvc.TypingStart(ctx, u, p.ReceiverID)
		}
		return a.messagesSvc.TypingStop(ctx, u, p.ReceiverID)

	default:
		return errUnknownEvent
	}
}

func decodeFrameData(frame realtime.Frame, dst any) error {
	if len(frame.Data) == 0 {
		return domain.NewValidationError(map[string]string{"data": "required"})
	}
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		return domain.NewValidationError(map[string]string{"data": "invalid json"})
	}
	return nil
}

func (a *api) reply(conn *realtime.Connection, event string, payload any) {
	frame, err := realtime.EncodeFrame(event, payload)
	if err != nil {
		a.logger.Error("encode push frame failed", "err", err, "event", event)
		return
	}
	if err := conn.Send(frame); err != nil {
		a.logger.Debug("push reply dropped", "err", err, "event", event, "conn_id", conn.ID())
	}
}

// socketErrorMessage is the text sent in an error frame. Unexpected errors
// are logged and replaced by a generic message.
func (a *api) socketErrorMessage(err error, userID, event string) string {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, errUnknownEvent):
		return "unknown event " + event
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, domain.ErrForbidden):
		if reason, ok := domain.DenialReason(err); ok && reason == domain.DeniedBlocked {
			return "You cannot message this user"
		}
		return "You can only message friends"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.Warn("push event timed out", "event", event, "user_id", userID)
		return "request timed out"
	default:
		a.logger.Error("push event failed", "err", err, "event", event, "user_id", userID)
		return "internal error"
	}
}

// checkOrigin accepts requests without an Origin header (native clients),
// same-host origins, and origins listed in the configuration. "*" allows
// any origin.
func (a *api) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
