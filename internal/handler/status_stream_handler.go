package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/cache"
	"github.com/stemsi/exstem-proctoring/internal/metrics"
	"github.com/stemsi/exstem-proctoring/internal/middleware"
	"github.com/stemsi/exstem-proctoring/internal/response"
	"github.com/stemsi/exstem-proctoring/internal/service"
	ws "github.com/stemsi/exstem-proctoring/internal/websocket"
)

const pingInterval = ws.PongWait * 9 / 10

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StatusSource computes and publishes module status events.
type StatusSource interface {
	StatusEvent(ctx context.Context, courseID, moduleID, userID int, source string) ws.StatusEvent
	Subscribe(ctx context.Context, courseID, moduleID int) *redis.PubSub
}

// StatusStreamHandler pushes a user's module status over a WebSocket. It
// forwards events published by start/close and polls the vendor on an
// interval, sending only changes.
type StatusStreamHandler struct {
	status       StatusSource
	pollInterval time.Duration
	requestTTL   time.Duration
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

func NewStatusStreamHandler(status StatusSource, pollInterval, requestTTL time.Duration, log zerolog.Logger, allowedOrigins []string) *StatusStreamHandler {
	return &StatusStreamHandler{
		status:       status,
		pollInterval: pollInterval,
		requestTTL:   requestTTL,
		log:          log.With().Str("component", "status_stream").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
	}
}

// StreamModuleStatus godoc
// WS /ws/v1/courses/:course_id/modules/:module_id/status
// Holders of the reports capability receive events for every user of the
// module; everyone else only their own.
func (h *StatusStreamHandler) StreamModuleStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	moduleID, ok := pathID(c, "module_id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StatusStreamConnections.Inc()
	defer metrics.StatusStreamConnections.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	userID := claims.UserID
	watchAll := claims.Can(service.CapViewReports)
	wsLog := h.log.With().
		Int("user_id", userID).
		Int("course_id", courseID).
		Int("module_id", moduleID).
		Logger()
	wsLog.Info().Msg("Status stream connected")

	pubsub := h.status.Subscribe(ctx, courseID, moduleID)
	defer pubsub.Close()
	published := pubsub.Channel()

	actions := make(chan ws.Action, 4)
	go h.readActions(conn, actions, cancel, wsLog)

	last := h.poll(ctx, courseID, moduleID, userID, "poll")
	if err := ws.WriteTyped(conn, last); err != nil {
		return
	}

	pollTicker := time.NewTicker(h.pollInterval)
	defer pollTicker.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Status stream closed")
			return

		case msg, ok := <-published:
			if !ok {
				return
			}
			var ev ws.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				wsLog.Warn().Err(err).Msg("Dropping malformed status event")
				continue
			}
			if ev.UserID != userID && !watchAll {
				continue
			}
			if ev.UserID == userID {
				last = ev
			}
			if err := ws.WriteTyped(conn, ev); err != nil {
				return
			}

		case <-pollTicker.C:
			ev := h.poll(ctx, courseID, moduleID, userID, "poll")
			if ev.Code == last.Code {
				continue
			}
			last = ev
			if err := ws.WriteTyped(conn, ev); err != nil {
				return
			}

		case action := <-actions:
			switch action {
			case ws.ActionPing:
				err = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionRefresh:
				last = h.poll(ctx, courseID, moduleID, userID, "refresh")
				err = ws.WriteTyped(conn, last)
			default:
				err = ws.WriteError(conn, "unknown action: "+string(action))
			}
			if err != nil {
				return
			}

		case <-pingTicker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// poll computes the status with a fresh request scope so each tick sees
// the vendor's current answer.
func (h *StatusStreamHandler) poll(ctx context.Context, courseID, moduleID, userID int, source string) ws.StatusEvent {
	scoped := cache.Begin(ctx, cache.NewMemory(h.requestTTL))
	return h.status.StatusEvent(scoped, courseID, moduleID, userID, source)
}

// readActions owns the read side of conn. It cancels the stream when the
// client goes away.
func (h *StatusStreamHandler) readActions(conn *websocket.Conn, out chan<- ws.Action, cancel context.CancelFunc, log zerolog.Logger) {
	defer cancel()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.PongWait))
	})
	for {
		var env ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		select {
		case out <- env.Action:
		default:
			log.Debug().Str("action", string(env.Action)).Msg("Dropping action, stream busy")
		}
	}
}
