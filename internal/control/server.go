package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"

	"github.com/crewctl/crewctl/internal/broker"
	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/debug"
)

const (
	maxControlMessage = 1024 * 1024
	writeTimeout      = 15 * time.Second
)

// SocketPath returns the control socket path under the given state
// directory.
func SocketPath(stateDir string) string {
	return filepath.Join(stateDir, "control.sock")
}

// Server exposes the broker to agent processes over a Unix-socket
// WebSocket endpoint at /control.
type Server struct {
	broker   *broker.Broker
	bus      *bus.Bus
	sockPath string
	canceler func(sessionID string)

	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates a server for the given broker and socket path. A nil
// eventBus disables watch connections.
func NewServer(b *broker.Broker, eventBus *bus.Bus, sockPath string) *Server {
	return &Server{broker: b, bus: eventBus, sockPath: sockPath}
}

// SetCanceler installs the session interrupt hook used by cancel_session
// requests. Without one, cancel requests fail.
func (s *Server) SetCanceler(fn func(sessionID string)) {
	s.canceler = fn
}

// Start begins listening. A stale socket file from a previous run is
// removed first. Serve errors after Start returns are logged, not fatal.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0o755); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}
	os.Remove(s.sockPath)

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.handleControl)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("control", "control server stopped", "err", err.Error())
		}
	}()
	return nil
}

// Close shuts the server down and removes the socket file.
func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.httpSrv.Shutdown(ctx)
		cancel()
	}
	os.Remove(s.sockPath)
	return err
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxControlMessage)

	ctx := r.Context()
	agentID := ""

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			return
		}
		msg, err := DecodeMsg(raw)
		if err != nil {
			s.writeError(ctx, ws, CodeBadRequest, err)
			continue
		}

		switch msg.Type {
		case MsgHello:
			hello, err := DecodeData[WireHello](msg)
			if err == nil {
				err = s.broker.Register(hello.AgentID, hello.Name)
			}
			if err != nil {
				s.writeError(ctx, ws, CodeBadRequest, err)
				continue
			}
			agentID = hello.AgentID
			s.writeResult(ctx, ws, WireResult{})
			continue

		case MsgCancelSession:
			// Operator verb, no hello needed.
			req, err := DecodeData[WireCancelSession](msg)
			if err == nil && s.canceler == nil {
				err = errors.New("session cancellation is not available")
			}
			if err != nil {
				s.writeError(ctx, ws, CodeBadRequest, err)
				continue
			}
			s.canceler(req.SessionID)
			s.writeResult(ctx, ws, WireResult{})
			continue

		case MsgWatch:
			// Takes the connection over. Never returns to the request loop.
			s.streamEvents(ctx, ws)
			return

		case MsgListAgents:
			s.writeResult(ctx, ws, WireResult{Agents: s.broker.Agents()})
			continue

		case MsgListPending:
			s.writeResult(ctx, ws, WireResult{Pending: s.broker.ListPending()})
			continue

		case MsgResolve:
			req, err := DecodeData[WireResolve](msg)
			if err == nil {
				err = s.resolve(req)
			}
			if err != nil {
				code := CodeBadRequest
				if errors.Is(err, broker.ErrUnknownRequest) {
					code = CodeUnknownRequest
				}
				s.writeError(ctx, ws, code, err)
				continue
			}
			s.writeResult(ctx, ws, WireResult{})
			continue
		}

		if agentID == "" && requiresHello(msg.Type) {
			s.writeError(ctx, ws, CodeBadRequest, errors.New("hello required before other requests"))
			continue
		}

		result, err := s.dispatch(ctx, agentID, msg)
		if err != nil {
			code := CodeBadRequest
			if errors.Is(err, broker.ErrRequestSuperseded) {
				code = CodeSuperseded
			}
			s.writeError(ctx, ws, code, err)
			continue
		}
		s.writeResult(ctx, ws, result)
	}
}

func (s *Server) dispatch(ctx context.Context, agentID string, msg *WireMsg) (WireResult, error) {
	switch msg.Type {
	case MsgAgentMessage:
		req, err := DecodeData[WireAgentMessage](msg)
		if err != nil {
			return WireResult{}, err
		}
		m, err := s.broker.SendMessage(agentID, s.agentName(agentID), req.To, req.Body, req.Priority)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Messages: []broker.Message{m}}, nil

	case MsgAgentBroadcast:
		req, err := DecodeData[WireAgentBroadcast](msg)
		if err != nil {
			return WireResult{}, err
		}
		msgs, err := s.broker.Broadcast(agentID, s.agentName(agentID), req.Body, req.Priority)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Messages: msgs}, nil

	case MsgListInbox:
		req, err := DecodeData[WireInboxQuery](msg)
		if err != nil {
			return WireResult{}, err
		}
		target := req.AgentID
		if target == "" {
			target = agentID
		}
		if target == "" {
			return WireResult{}, errors.New("agent id is required")
		}
		return WireResult{Messages: s.broker.ListInbox(target)}, nil

	case MsgMarkRead:
		req, err := DecodeData[WireMarkRead](msg)
		if err != nil {
			return WireResult{}, err
		}
		target := req.AgentID
		if target == "" {
			target = agentID
		}
		if target == "" {
			return WireResult{}, errors.New("agent id is required")
		}
		return WireResult{}, s.broker.MarkRead(target, req.MessageID, req.Read)

	case MsgAskQuestion:
		req, err := DecodeData[WireAskQuestion](msg)
		if err != nil {
			return WireResult{}, err
		}
		answers, err := s.broker.AskUserQuestion(ctx, agentID, req.Questions)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Answers: answers}, nil

	case MsgAskPermission:
		req, err := DecodeData[WireAskPermission](msg)
		if err != nil {
			return WireResult{}, err
		}
		granted, err := s.broker.RequestToolPermission(ctx, agentID, req.Permission, req.Reason)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Granted: &granted}, nil

	case MsgAskPlanReview:
		review, err := s.broker.RequestPlanReview(ctx, agentID)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Review: &review}, nil

	case MsgBacklogAdd:
		req, err := DecodeData[broker.BacklogItem](msg)
		if err != nil {
			return WireResult{}, err
		}
		item := *req
		if item.AgentID == "" {
			item.AgentID = agentID
		}
		if agentID != "" {
			item.CreatedBy = agentID
		}
		added, err := s.broker.AddBacklog(item)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Item: &added}, nil

	case MsgBacklogUpdate:
		req, err := DecodeData[WireBacklogUpdate](msg)
		if err != nil {
			return WireResult{}, err
		}
		updated, err := s.broker.UpdateBacklog(req.ID, req.Update)
		if err != nil {
			return WireResult{}, err
		}
		return WireResult{Item: &updated}, nil

	case MsgBacklogList:
		req, err := DecodeData[WireBacklogList](msg)
		if err != nil {
			return WireResult{}, err
		}
		items := s.broker.ListBacklog(broker.BacklogFilter{
			AgentID:  req.AgentID,
			ParentID: req.ParentID,
			Status:   req.Status,
		})
		return WireResult{Items: items}, nil

	default:
		return WireResult{}, fmt.Errorf("unknown control request %q", msg.Type)
	}
}

// requiresHello reports whether a request type is meaningless without a
// registered agent on the connection.
func requiresHello(msgType string) bool {
	switch msgType {
	case MsgAgentMessage, MsgAgentBroadcast, MsgAskQuestion, MsgAskPermission, MsgAskPlanReview:
		return true
	}
	return false
}

// resolve settles a pending request on the operator's behalf, picking the
// broker operation from the payload shape.
func (s *Server) resolve(req *WireResolve) error {
	switch {
	case req.Granted != nil:
		return s.broker.ResolvePermission(req.ID, *req.Granted)
	case req.Review != nil:
		return s.broker.ResolvePlanReview(req.ID, *req.Review)
	case req.Answers != nil:
		return s.broker.ResolveQuestion(req.ID, req.Answers)
	default:
		return errors.New("resolve payload is empty")
	}
}

// streamEvents forwards every bus notification to the client until the
// connection drops. A result message acknowledges the switch first.
func (s *Server) streamEvents(ctx context.Context, ws *websocket.Conn) {
	if s.bus == nil {
		s.writeError(ctx, ws, CodeBadRequest, errors.New("event streaming is not available"))
		return
	}
	s.writeResult(ctx, ws, WireResult{})

	sub := s.bus.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			payload, err := json.Marshal(n.Payload)
			if err != nil {
				continue
			}
			data, err := EncodeMsg(MsgEvent, WireEvent{Topic: n.Topic, Time: n.Time, Payload: payload})
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
				cancel()
				return
			}
			cancel()
		}
	}
}

func (s *Server) agentName(agentID string) string {
	for _, a := range s.broker.Agents() {
		if a.ID == agentID {
			return a.Name
		}
	}
	return agentID
}

func (s *Server) writeResult(ctx context.Context, ws *websocket.Conn, result WireResult) {
	data, err := EncodeMsg(MsgResult, result)
	if err != nil {
		return
	}
	s.write(ctx, ws, data)
}

func (s *Server) writeError(ctx context.Context, ws *websocket.Conn, code string, err error) {
	data, encErr := EncodeMsg(MsgError, WireError{Code: code, Error: err.Error()})
	if encErr != nil {
		return
	}
	s.write(ctx, ws, data)
}

func (s *Server) write(ctx context.Context, ws *websocket.Conn, data []byte) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = ws.Write(writeCtx, websocket.MessageText, data)
}
