// Package toolserver hosts tools behind the JSON-RPC endpoint the
// orchestrator's tool clients call.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/rs/zerolog"
)

// Method handles one JSON-RPC method. The result is encoded as the
// response's result member.
type Method func(ctx context.Context, params map[string]any) (any, error)

// ParamError marks a request whose params are unusable.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string { return fmt.Sprintf("invalid param %q: %s", e.Param, e.Reason) }

type Server struct {
	name    string
	methods map[string]Method
	logger  zerolog.Logger
}

func New(name string, logger zerolog.Logger) *Server {
	return &Server{
		name:    name,
		methods: map[string]Method{},
		logger:  logger.With().Str("component", "toolserver").Str("tool", name).Logger(),
	}
}

// Register adds a method. list_tools is answered by the server itself.
func (s *Server) Register(name string, m Method) {
	s.methods[name] = m
}

// Tools lists registered method names in sorted order.
func (s *Server) Tools() []string {
	names := make([]string, 0, len(s.methods))
	for n := range s.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Echo returns an echo instance serving POST /rpc and GET /healthz.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/rpc", s.handle)
	return e
}

func (s *Server) handle(c echo.Context) error {
	var req rpc.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, rpc.Response{JSONRPC: rpc.Version, Error: &rpc.Error{Code: rpc.CodeParseError, Message: "parse error: " + err.Error()}})
	}
	resp := s.Dispatch(c.Request().Context(), req)
	return c.JSON(http.StatusOK, resp)
}

// Dispatch answers a single decoded request.
func (s *Server) Dispatch(ctx context.Context, req rpc.Request) rpc.Response {
	resp := rpc.Response{JSONRPC: rpc.Version, ID: req.ID}
	fail := func(code int, msg string) rpc.Response {
		resp.Error = &rpc.Error{Code: code, Message: msg}
		return resp
	}

	var (
		result any
		err    error
	)
	switch {
	case req.Method == rpc.MethodListTools:
		result = s.Tools()
	case s.methods[req.Method] != nil:
		if req.Params == nil {
			req.Params = map[string]any{}
		}
		result, err = s.methods[req.Method](ctx, req.Params)
	default:
		s.logger.Warn().Str("method", req.Method).Msg("unknown method")
		return fail(rpc.CodeMethodNotFound, "method not found: "+req.Method)
	}

	if err != nil {
		var pe *ParamError
		if errors.As(err, &pe) {
			return fail(rpc.CodeInvalidParams, pe.Error())
		}
		s.logger.Error().Err(err).Str("method", req.Method).Msg("tool failed")
		return fail(rpc.CodeServerError, err.Error())
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fail(rpc.CodeServerError, err.Error())
	}
	resp.Result = raw
	return resp
}

func stringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name].(string)
	if !ok || v == "" {
		return "", &ParamError{Param: name, Reason: "non-empty string required"}
	}
	return v, nil
}

func stringsParam(params map[string]any, name string) ([]string, error) {
	raw, ok := params[name].([]any)
	if !ok {
		return nil, &ParamError{Param: name, Reason: "array of strings required"}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, &ParamError{Param: name, Reason: "array of strings required"}
		}
		out = append(out, s)
	}
	return out, nil
}
