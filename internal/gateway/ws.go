package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/version"
)

const maxFrameBytes = 1 << 20

// RequestHandler processes one RPC request frame.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.stats", s.rpcSessionStats)
	s.Handle("memory.search", s.rpcMemorySearch)
}

// handleWebSocket upgrades the connection and serves RPC frames until
// the peer goes away. Auth already ran in the route middleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newClient(conn, r.RemoteAddr)
	s.clients.add(client)
	defer func() {
		s.clients.remove(client)
		client.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.keepalive(ctx)

	ready := Ready{
		Protocol: ProtocolVersion,
		Version:  version.Version,
		ConnID:   client.ID,
		Methods:  s.Methods(),
	}
	if err := client.SendEvent("connect.ready", ready); err != nil {
		s.log.Warn().Err(err).Str("connId", client.ID).Msg("sending ready event")
		return
	}

	s.readLoop(ctx, client)
}

// readLoop handles frames in arrival order. A turn blocks the loop, so
// one connection holds at most one turn in flight.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			switch {
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				client.RespondError("", ErrorShape{Code: "parse_error", Message: err.Error()})
				continue
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.log.Debug().Str("connId", client.ID).Msg("client closed connection")
			default:
				s.log.Debug().Err(err).Str("connId", client.ID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p ChatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		rc.RespondError("invalid_params", "text is required")
		return
	}

	sessionID := p.SessionID
	if bound, ok := rc.Client.Bound(); ok && sessionID == "" {
		sessionID = bound.ID
	}
	ref, err := s.resolveSession(rc.Ctx, sessionID, strings.TrimSpace(p.UserID))
	if err != nil {
		s.log.Error().Err(err).Msg("resolving session")
		rc.RespondError("store_error", "could not load session")
		return
	}

	ctx, cancel := context.WithTimeout(rc.Ctx, turnTimeout)
	defer cancel()

	result, err := s.runTurn(ctx, ref, p.Text)
	if err != nil {
		_, code := turnErrorStatus(err)
		rc.Client.RespondError(rc.Frame.ID, ErrorShape{
			Code:      code,
			Message:   err.Error(),
			Retryable: llm.IsTransient(err),
		})
		return
	}
	rc.Client.Bind(ref)
	rc.Respond(result)
	if result.Evicted > 0 {
		rc.Client.SendEvent("session.compacted", Compacted{SessionID: ref.ID, Turns: result.Evicted})
	}
}

type sessionStatsParams struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) rpcSessionStats(rc *RequestContext) {
	var p sessionStatsParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	stats, ok := s.runner.Stats(p.SessionID)
	if !ok {
		rc.RespondError("not_found", "no live session "+p.SessionID)
		return
	}
	rc.Respond(stats)
}

type memorySearchParams struct {
	Query  string `json:"q"`
	K      int    `json:"k,omitempty"`
	UserID string `json:"user,omitempty"`
}

func (s *Server) rpcMemorySearch(rc *RequestContext) {
	if s.memory == nil {
		rc.RespondError("unavailable", "memory search is not enabled")
		return
	}
	var p memorySearchParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		rc.RespondError("invalid_params", "q is required")
		return
	}
	k := s.cfg.Memory.K
	if p.K > 0 {
		k = min(p.K, maxSearchK)
	}
	rc.Respond(map[string]any{"results": s.searchMemory(rc.Ctx, p.Query, k, p.UserID)})
}
