package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/session"
	ws "github.com/invigilo/invigilo-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
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

// WSHandler drives a student's exam session over a WebSocket. The browser
// is a thin event source: it forwards user actions, integrity events, and
// webcam frames; all exam state lives server-side.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/session
// Upgrades to WebSocket and attaches to the student's live exam session,
// creating it on first connect.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID

	live, err := h.sessions.Join(c.Request.Context(), examID, studentID)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}

	wsLog := h.log.With().
		Int("student_id", studentID).
		Stringer("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Tell the client where it stands; a reconnect lands mid-exam.
	snap := live.Engine.Snapshot()
	ws.WriteTyped(conn, ws.StateEvent{
		Event:         ws.EventState,
		State:         string(snap.State),
		SectionIndex:  snap.SectionIndex,
		SectionName:   snap.SectionName,
		QuestionIndex: snap.QuestionIndex,
		Display:       snap.Display,
	})

	writerDone := make(chan struct{})
	go h.writeLoop(conn, live, writerDone)

	h.readLoop(c.Request.Context(), conn, live, wsLog)
	close(writerDone)

	// The engine keeps running after a disconnect; only an unstarted
	// session is torn down.
	h.sessions.Detach(examID, studentID)
	wsLog.Info().Msg("Student disconnected")
}

// writeLoop forwards engine events to the client as typed payloads.
func (h *WSHandler) writeLoop(conn *websocket.Conn, live *service.LiveSession, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-live.Events:
			if err := ws.WriteTyped(conn, translateEvent(ev)); err != nil {
				return
			}
		}
	}
}

// translateEvent maps an engine event onto the wire schema.
func translateEvent(ev session.Event) interface{} {
	switch ev.Kind {
	case session.EventTick:
		return ws.TickEvent{
			Event:            ws.EventTick,
			ExamRemaining:    ev.ExamRemaining,
			SectionRemaining: ev.SectionRemaining,
			Display:          ev.Display,
		}
	case session.EventLowTime:
		return ws.LowTimeEvent{Event: ws.EventLowTime, Display: ev.Display}
	case session.EventWarning:
		out := ws.WarningEvent{Event: ws.EventWarning, Count: ev.WarningCount}
		if ev.Warning != nil {
			out.Type = string(ev.Warning.Type)
			out.SnapshotURL = ev.Warning.SnapshotURL
		}
		return out
	case session.EventNotice:
		return ws.NoticeEvent{Event: ws.EventNotice, Message: ev.Notice}
	case session.EventSubmitted:
		out := ws.SubmittedEvent{Event: ws.EventSubmitted, Trigger: string(ev.Trigger)}
		if ev.Submission != nil {
			out.Score = ev.Submission.Score
			out.MaxScore = ev.Submission.MaxScore
			out.Percentage = ev.Submission.Percentage
			out.NeedsEvaluation = ev.Submission.NeedsEvaluation
		}
		return out
	case session.EventSubmitFailed:
		return ws.ErrorResponse{Event: ws.EventError, Error: ev.Err}
	default:
		return ws.StateEvent{
			Event:         ws.EventState,
			State:         string(ev.State),
			SectionIndex:  ev.SectionIndex,
			SectionName:   ev.SectionName,
			QuestionIndex: ev.QuestionIndex,
			Display:       ev.Display,
		}
	}
}

// readLoop dispatches client actions to the engine until the connection
// drops.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, live *service.LiveSession, wsLog zerolog.Logger) {
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		if err := h.dispatch(ctx, conn, live, envelope.Action, raw); err != nil {
			ws.WriteError(conn, err.Error())
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, live *service.LiveSession, action ws.Action, raw []byte) error {
	switch action {
	case ws.ActionStart:
		var req ws.StartRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		return h.sessions.Start(ctx, live, req.Fullscreen)

	case ws.ActionBeginSection:
		return live.Engine.ConfirmSection()

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		if _, err := uuid.Parse(req.QID); err != nil {
			return err
		}
		return h.sessions.SaveAnswer(ctx, live, req.QID, req.Answer)

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		return live.Engine.Navigate(req.Delta)

	case ws.ActionAdvance:
		return live.Engine.Advance()

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		return live.Engine.Submit(req.Force)

	case ws.ActionIntegrity:
		var req ws.IntegrityRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		switch req.Kind {
		case ws.IntegrityFullscreenExit:
			return live.Engine.ReportFullscreenExit()
		case ws.IntegrityTabHidden:
			return live.Engine.ReportTabHidden()
		case ws.IntegrityClipboard:
			live.Engine.ReportClipboard()
			return nil
		default:
			return errUnknownIntegrityKind
		}

	case ws.ActionFrame:
		var req ws.FrameRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return err
		}
		live.Engine.PushFrame(session.Frame{Data: data, Faces: req.Faces, At: time.Now()})
		return nil

	case ws.ActionPing:
		return ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})

	default:
		return errUnknownAction
	}
}

var (
	errUnknownAction        = errors.New("unknown action")
	errUnknownIntegrityKind = errors.New("unknown integrity kind")
)
