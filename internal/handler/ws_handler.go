package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coursiva/proctor-backend/internal/middleware"
	"github.com/coursiva/proctor-backend/internal/proctor"
	"github.com/coursiva/proctor-backend/internal/service"
	ws "github.com/coursiva/proctor-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StatePushInterval is the cadence of live state pushes to the client.
const StatePushInterval = 1 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
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

// wsConn serializes writes: gorilla/websocket permits one concurrent
// writer, and the state pusher and the read-loop replies share the
// connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) Write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteTyped(w.conn, v)
}

func (w *wsConn) WriteError(msg string) {
	_ = w.Write(ws.ErrorResponse{Event: ws.EventError, Error: msg})
}

// WSHandler streams observations in and session state out for one live
// quiz session. The connection doubles as the session's media handle:
// when the engine releases media, the socket closes, telling the client
// to stop its capture.
type WSHandler struct {
	proctorService *service.ProctorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(proctorService *service.ProctorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		proctorService: proctorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Receives observation samples and focus-loss events; pushes the live
// session snapshot once per second and the final result at the end.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	// Ownership check before upgrading.
	if _, err := h.proctorService.State(sessionID, claims.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live session"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Session stream connected")

	// The engine releases media exactly once at session end; closing the
	// socket here is that release.
	if err := h.proctorService.BindMedia(sessionID, claims.UserID, func() { raw.Close() }); err != nil {
		wsLog.Warn().Err(err).Msg("Failed to bind media handle")
	}

	stop := make(chan struct{})
	defer close(stop)
	go h.pushState(conn, sessionID, claims.UserID, stop, wsLog)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			conn.WriteError("malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionObservation:
			var msg ws.ObservationRequest
			if err := json.Unmarshal(data, &msg); err != nil {
				conn.WriteError("malformed observation")
				continue
			}
			if err := h.proctorService.PublishObservation(sessionID, claims.UserID, msg.Observation); err != nil {
				conn.WriteError("session is not live")
			}

		case ws.ActionSetupObservation:
			var msg ws.SetupObservationRequest
			if err := json.Unmarshal(data, &msg); err != nil {
				conn.WriteError("malformed setup observation")
				continue
			}
			result, err := h.proctorService.ObserveSetup(sessionID, claims.UserID, msg.Observation)
			if err != nil {
				conn.WriteError("setup is not accepting samples")
				continue
			}
			_ = conn.Write(ws.EnvironmentResponse{Event: ws.EventEnvironment, Result: result})

		case ws.ActionFocusLost:
			if err := h.proctorService.FocusLost(sessionID, claims.UserID); err != nil {
				conn.WriteError("session is not live")
			}

		case ws.ActionPing:
			_ = conn.Write(ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(envelope.Action))
		}
	}
}

// pushState streams the live snapshot until the session leaves the
// registry, then pushes the final result and stops.
func (h *WSHandler) pushState(conn *wsConn, sessionID uuid.UUID, userID int, stop <-chan struct{}, wsLog zerolog.Logger) {
	ticker := time.NewTicker(StatePushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state, err := h.proctorService.State(sessionID, userID)
			if err != nil {
				// Session left the registry: it reached a terminal state
				// and the durable row has the result.
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				result, rerr := h.proctorService.Result(ctx, sessionID, userID)
				cancel()
				if rerr == nil {
					_ = conn.Write(ws.ResultResponse{Event: ws.EventResult, Result: result})
				}
				return
			}
			if state.Status == proctor.StatusTerminated || state.Status == proctor.StatusCompleted {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				result, rerr := h.proctorService.Result(ctx, sessionID, userID)
				cancel()
				if rerr == nil {
					_ = conn.Write(ws.ResultResponse{Event: ws.EventResult, Result: result})
				}
				return
			}
			if err := conn.Write(ws.StateResponse{Event: ws.EventState, State: state}); err != nil {
				wsLog.Debug().Msg("State push failed, stopping")
				return
			}
		}
	}
}
