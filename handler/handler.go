package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"papers-gateway/internal/auth"
	"papers-gateway/internal/domain"
	"papers-gateway/internal/middleware"
	"papers-gateway/internal/usecase"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"

	msgInvalidToken       = "Invalid or expired token"
	msgInvalidBody        = "Invalid request body"
	msgInternal           = "Internal server error"
	msgLoginSuccessful    = "Login successful"
	msgUserAdded          = "User added successfully"
	msgSessionDeleted     = "Session deleted successfully"
	msgRouteNotFound      = "Not Found"
	msgMethodNotSupported = "Method Not Allowed"
)

// Gateway is the set of use cases served over HTTP; *usecase.Service
// implements it.
type Gateway interface {
	Login(ctx context.Context, in usecase.LoginInput) (usecase.LoginOutput, error)
	AddUser(ctx context.Context, requester domain.Identity, in usecase.AddUserInput) error
	MessageToAgent(ctx context.Context, requester domain.Identity, in usecase.MessageInput) (usecase.MessageOutput, error)
	DeleteSession(ctx context.Context, requester domain.Identity, in usecase.DeleteSessionInput) error
}

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Recorder receives per-operation outcomes. *metrics.Collector implements it.
type Recorder interface {
	RecordRequest(operation, status string, d time.Duration)
	RecordAuthRejection(operation string)
}

type Handler struct {
	gateway  Gateway
	verifier TokenVerifier
	recorder Recorder
	now      func() time.Time
	routes   map[string]operation
}

type Option func(*Handler)

// WithRecorder reports every dispatched operation to r.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// operation is one endpoint. run receives the verified identity when
// protected is set, and the zero Identity otherwise.
type operation struct {
	name      string
	method    string
	path      string
	protected bool
	run       func(ctx context.Context, id domain.Identity, body []byte) (int, any)
}

type loginRequest struct {
	UserEmail string `json:"user_email"`
}

type addUserRequest struct {
	UserEmail    string `json:"user_email"`
	NewUserEmail string `json:"new_user_email"`
	IsAdmin      bool   `json:"is_admin"`
}

type messageRequest struct {
	UserEmail string `json:"user_email"`
	SessionID string `json:"session_id"`
	Message   string `json:"message_to_agent"`
}

type deleteSessionRequest struct {
	UserEmail string `json:"user_email"`
	SessionID string `json:"session_id"`
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// loginResponse keeps user_token and is_admin as explicit nulls on failure.
type loginResponse struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	UserToken *string `json:"user_token"`
	IsAdmin   *bool   `json:"is_admin"`
}

type messageResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func NewHandler(gateway Gateway, verifier TokenVerifier, opts ...Option) (*Handler, error) {
	if gateway == nil {
		return nil, errors.New("handler: gateway must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	h := &Handler{gateway: gateway, verifier: verifier, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}

	h.routes = make(map[string]operation)
	for _, op := range h.operations() {
		h.routes[routeKey(op.method, op.path)] = op
	}
	return h, nil
}

func (h *Handler) operations() []operation {
	return []operation{
		{name: "login", method: http.MethodPost, path: "/login", run: h.login},
		{name: "add_user", method: http.MethodPost, path: "/add_user", protected: true, run: h.addUser},
		{name: "message_to_agent", method: http.MethodPost, path: "/message_to_agent", protected: true, run: h.messageToAgent},
		{name: "delete_session", method: http.MethodDelete, path: "/delete_session", protected: true, run: h.deleteSession},
		{name: "health", method: http.MethodGet, path: "/health", run: h.health},
	}
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := middleware.ResolveCorrelationID(headerValue(event.Headers, middleware.CorrelationHeader))
	ctx = middleware.WithCorrelationID(ctx, correlationID)

	status, payload := h.route(ctx, event.HTTPMethod, event.Path, headerValue(event.Headers, "Authorization"), []byte(event.Body))

	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "err", err, "correlation_id", correlationID)
		status = http.StatusInternalServerError
		body = []byte(`{"status":"fail","message":"Internal server error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":               "application/json",
			middleware.CorrelationHeader: correlationID,
		},
		Body: string(body),
	}, nil
}

func (h *Handler) route(ctx context.Context, method, path, authorization string, body []byte) (int, any) {
	path = "/" + strings.Trim(path, "/")
	op, ok := h.routes[routeKey(method, path)]
	if ok {
		return h.dispatch(ctx, op, authorization, body)
	}
	for _, candidate := range h.routes {
		if candidate.path == path {
			return http.StatusMethodNotAllowed, detailResponse{Detail: msgMethodNotSupported}
		}
	}
	return http.StatusNotFound, detailResponse{Detail: msgRouteNotFound}
}

// dispatch authenticates a protected operation, runs it and records the
// outcome. An invalid bearer never reaches the operation.
func (h *Handler) dispatch(ctx context.Context, op operation, authorization string, body []byte) (int, any) {
	start := h.now()

	var identity domain.Identity
	if op.protected {
		id, err := h.authenticate(authorization)
		if err != nil {
			slog.WarnContext(ctx, "rejected bearer token", "operation", op.name, "correlation_id", middleware.CorrelationID(ctx))
			if h.recorder != nil {
				h.recorder.RecordAuthRejection(op.name)
				h.recorder.RecordRequest(op.name, "unauthorized", h.now().Sub(start))
			}
			return http.StatusUnauthorized, detailResponse{Detail: msgInvalidToken}
		}
		identity = id
	}

	status, payload := op.run(ctx, identity, body)
	if h.recorder != nil {
		h.recorder.RecordRequest(op.name, outcomeLabel(status, payload), h.now().Sub(start))
	}
	return status, payload
}

func (h *Handler) authenticate(authorization string) (domain.Identity, error) {
	token, ok := auth.BearerToken(authorization)
	if !ok {
		return domain.Identity{}, auth.ErrInvalidToken
	}
	return h.verifier.Verify(token)
}

func (h *Handler) login(ctx context.Context, _ domain.Identity, body []byte) (int, any) {
	var req loginRequest
	if err := decode(body, &req); err != nil {
		return http.StatusOK, loginResponse{Status: statusFail, Message: msgInvalidBody}
	}
	out, err := h.gateway.Login(ctx, usecase.LoginInput{UserEmail: req.UserEmail})
	if err != nil {
		status, msg := failure(ctx, "login", err)
		return status, loginResponse{Status: statusFail, Message: msg}
	}
	return http.StatusOK, loginResponse{
		Status:    statusSuccess,
		Message:   msgLoginSuccessful,
		UserToken: &out.Token,
		IsAdmin:   &out.IsAdmin,
	}
}

func (h *Handler) addUser(ctx context.Context, id domain.Identity, body []byte) (int, any) {
	var req addUserRequest
	if err := decode(body, &req); err != nil {
		return http.StatusOK, envelope{Status: statusFail, Message: msgInvalidBody}
	}
	err := h.gateway.AddUser(ctx, id, usecase.AddUserInput{
		UserEmail:    req.UserEmail,
		NewUserEmail: req.NewUserEmail,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		status, msg := failure(ctx, "add_user", err)
		return status, envelope{Status: statusFail, Message: msg}
	}
	return http.StatusOK, envelope{Status: statusSuccess, Message: msgUserAdded}
}

func (h *Handler) messageToAgent(ctx context.Context, id domain.Identity, body []byte) (int, any) {
	var req messageRequest
	if err := decode(body, &req); err != nil {
		return http.StatusOK, messageResponse{Status: statusFail, Message: msgInvalidBody}
	}
	out, err := h.gateway.MessageToAgent(ctx, id, usecase.MessageInput{
		UserEmail: req.UserEmail,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		status, msg := failure(ctx, "message_to_agent", err)
		return status, messageResponse{Status: statusFail, Message: msg, SessionID: req.SessionID}
	}
	return http.StatusOK, messageResponse{Status: statusSuccess, Message: out.Reply, SessionID: out.SessionID}
}

func (h *Handler) deleteSession(ctx context.Context, id domain.Identity, body []byte) (int, any) {
	var req deleteSessionRequest
	if err := decode(body, &req); err != nil {
		return http.StatusOK, envelope{Status: statusFail, Message: msgInvalidBody}
	}
	err := h.gateway.DeleteSession(ctx, id, usecase.DeleteSessionInput{UserEmail: req.UserEmail, SessionID: req.SessionID})
	if err != nil {
		status, msg := failure(ctx, "delete_session", err)
		return status, envelope{Status: statusFail, Message: msg}
	}
	return http.StatusOK, envelope{Status: statusSuccess, Message: msgSessionDeleted}
}

func (h *Handler) health(context.Context, domain.Identity, []byte) (int, any) {
	return http.StatusOK, healthResponse{Status: "healthy"}
}

// failure maps a use case error to the HTTP status and the message shown in
// the fail envelope. Only internal errors leave the 200 range.
func failure(ctx context.Context, op string, err error) (int, string) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		if ucErr.Code == usecase.ErrorInternal {
			slog.ErrorContext(ctx, "operation failed", "operation", op, "code", ucErr.Code, "err", err)
			return http.StatusInternalServerError, ucErr.Message
		}
		slog.InfoContext(ctx, "operation returned fail", "operation", op, "code", ucErr.Code, "err", err)
		return http.StatusOK, ucErr.Message
	}
	slog.ErrorContext(ctx, "unexpected error", "operation", op, "err", err)
	return http.StatusInternalServerError, msgInternal
}

func decode(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}

func outcomeLabel(status int, payload any) string {
	switch p := payload.(type) {
	case envelope:
		return p.Status
	case loginResponse:
		return p.Status
	case messageResponse:
		return p.Status
	case healthResponse:
		return p.Status
	}
	if status >= http.StatusInternalServerError {
		return "error"
	}
	return "unknown"
}

func routeKey(method, path string) string {
	return method + " " + path
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
