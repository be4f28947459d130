package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/pkg/apierr"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsIdleTimeout = 60 * time.Second
	wsPingEvery   = 25 * time.Second
	wsTurnTimeout = 75 * time.Second
	wsMaxFrame    = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the cors middleware
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClientFrame is a client frame. Only start carries the turn fields.
type wsClientFrame struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Provider       string `json:"provider"`
	UseRAG         bool   `json:"use_rag"`
}

func (f wsClientFrame) is(kind string) bool {
	return strings.EqualFold(strings.TrimSpace(f.Type), kind)
}

type wsSession struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

func newWSSession(conn *websocket.Conn) *wsSession {
	conn.SetReadLimit(wsMaxFrame)
	s := &wsSession{conn: conn, stopped: make(chan struct{})}
	s.extendDeadline()
	conn.SetPongHandler(func(string) error { return s.extendDeadline() })
	return s
}

func (s *wsSession) extendDeadline() error {
	return s.conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
}

func (s *wsSession) send(frame gin.H) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		log.Printf("[ws] write %v: %v", frame["type"], err)
	}
}

func (s *wsSession) fail(err error) {
	status, code, msg := apierr.Public(err, "CHAT_ERROR")
	if status >= http.StatusInternalServerError {
		log.Printf("[ws] turn failed: %v", err)
	}
	s.send(gin.H{"type": "error", "code": code, "error": msg})
}

func (s *wsSession) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// watch reads frames until the peer goes away or sends stop, then cancels
// the turn.
func (s *wsSession) watch(cancel context.CancelFunc) {
	for {
		var f wsClientFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			if isJSONError(err) {
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] peer closed: %v", err)
			}
			return
		}
		_ = s.extendDeadline()
		if f.is("stop") {
			s.stopOnce.Do(func() { close(s.stopped) })
			cancel()
			return
		}
	}
}

// isJSONError separates malformed client frames from transport failures.
func isJSONError(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ) || errors.Is(err, io.ErrUnexpectedEOF)
}

// keepAlive pings until ctx ends.
func (s *wsSession) keepAlive(ctx context.Context) {
	t := time.NewTicker(wsPingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// ChatWS streams one chat turn over a websocket. Authentication runs in
// middleware before the upgrade.
//
//	-> {type: "start", message, conversation_id, provider?, use_rag?}
//	<- {type: "user_saved", conversation_id, message_id}
//	<- {type: "delta", data}
//	<- {type: "done", ok: true, message_id, provider, stopped}
//	<- {type: "error", code, error}
//
// {type: "stop"} from the client ends generation early; the partial reply
// is still stored.
func ChatWS(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := middleware.CurrentUserID(c)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade: %v", err)
			return
		}
		defer conn.Close()
		s := newWSSession(conn)

		var start wsClientFrame
		if err := conn.ReadJSON(&start); err != nil && !isJSONError(err) {
			log.Printf("[ws] read start: %v", err)
			return
		} else if err != nil || !start.is("start") {
			s.fail(apierr.BadRequest("invalid start payload"))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), wsTurnTimeout)
		defer cancel()
		go s.keepAlive(ctx)

		release, err := middleware.AcquireUserSlot(ctx, uid)
		if err != nil {
			s.fail(err)
			return
		}
		defer release()

		turn, err := env.prepareChat(ctx, uid, chatRequest{
			Message:        start.Message,
			ConversationID: start.ConversationID,
			LLMProvider:    start.Provider,
			UseRAG:         start.UseRAG,
		})
		if err != nil {
			s.fail(err)
			return
		}
		s.send(gin.H{"type": "user_saved", "conversation_id": turn.conv.ID, "message_id": turn.userMsg.ID})

		go s.watch(cancel)

		full, genErr := turn.generate(ctx, func(chunk string) {
			if !s.isStopped() {
				s.send(gin.H{"type": "delta", "data": chunk})
			}
		})
		stopped := s.isStopped()
		if stopped {
			genErr = nil
		}
		bot, err := turn.finish(ctx, full, genErr)
		switch {
		case genErr != nil:
			s.fail(turn.failure(genErr))
		case err != nil:
			s.fail(err)
		default:
			s.send(gin.H{
				"type":       "done",
				"ok":         true,
				"message_id": bot.ID,
				"provider":   bot.LLMProvider,
				"stopped":    stopped,
			})
		}
	}
}
