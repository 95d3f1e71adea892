package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/service/access"
	"github.com/splax/teamscope/internal/service/auth"
	"github.com/splax/teamscope/internal/service/team"
	"github.com/splax/teamscope/internal/service/webhook"
	"github.com/splax/teamscope/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	access   access.Service
	team     team.Service
	webhook  webhook.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	healthCheckTimeout = 2 * time.Second
	sseHeartbeatEvery  = 30 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, accessSvc access.Service, teamSvc team.Service, webhookSvc webhook.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		access:  accessSvc,
		team:    teamSvc,
		webhook: webhookSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/profile", r.audit(r.handlerAuthRate("/profile", rateLimitUserWrite, rateWindowDefault, r.handleProfile)))
	r.mux.HandleFunc("/teams", r.audit(r.handlerAuthRate("/teams", rateLimitUserWrite, rateWindowDefault, r.handleTeams)))
	r.mux.HandleFunc("/teams/search", r.audit(r.handlerAuthRate("/teams/search", rateLimitUserRead, rateWindowDefault, r.handleTeamSearch)))
	r.mux.HandleFunc("/teams/", r.audit(r.handlerAuthRate("/teams/{id}", rateLimitUserRead, rateWindowDefault, r.handleTeamSubroutes)))
}

// writeServiceError maps engine failures onto HTTP statuses. Both
// authorization causes collapse into a single "not permitted" response.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrTeamNotFound):
		writeError(w, http.StatusNotFound, "team not found")
	case errors.Is(err, access.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, "not permitted")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   marshalUser(*user),
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   marshalUser(*user),
		"tokens": tokens,
	})
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled field required")
		return
	}
	if err := r.auth.SetEnabled(req.Context(), info.UserID, *payload.Enabled); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		teams, err := r.access.TeamsFor(req.Context(), info.UserID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalTeams(teams))
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.team.Create(req.Context(), info.UserID, payload.Name, payload.Description)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, marshalTeam(*created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamSearch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	query := strings.TrimSpace(req.URL.Query().Get("query"))
	teams, err := r.access.SearchTeams(req.Context(), info.UserID, query)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalTeams(teams))
}

func (r *Router) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/teams/")
	parts := strings.Split(trimmed, "/")
	teamID := parts[0]
	if teamID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleTeamShow(w, req, teamID)
	case len(parts) == 2 && parts[1] == "typeahead":
		r.handleTypeahead(w, req, teamID)
	case len(parts) == 2 && parts[1] == "members":
		r.handleTeamMembers(w, req, teamID)
	case len(parts) == 2 && parts[1] == "events":
		r.handleTeamEvents(w, req, teamID)
	case len(parts) == 2 && parts[1] == "webhooks":
		r.handleTeamWebhooks(w, req, teamID)
	case len(parts) == 3 && parts[1] == "webhooks":
		r.handleTeamWebhookDelete(w, req, teamID, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleTeamShow(w http.ResponseWriter, req *http.Request, teamID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	shown, membership, members, err := r.team.Show(req.Context(), info.UserID, teamID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"team":    marshalTeam(*shown),
		"role":    membership.Role,
		"members": marshalMembers(members),
	})
}

func (r *Router) handleTypeahead(w http.ResponseWriter, req *http.Request, teamID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	query := strings.TrimSpace(req.URL.Query().Get("query"))
	users, err := r.access.SearchUsers(req.Context(), info.UserID, teamID, query, domain.RoleOwner)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, marshalUser(user))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleTeamMembers(w http.ResponseWriter, req *http.Request, teamID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Username string      `json:"username"`
			Role     domain.Role `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		membership, err := r.team.AddMember(req.Context(), info.UserID, teamID, payload.Username, payload.Role)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"team_id": membership.TeamID,
			"user_id": membership.UserID,
			"role":    membership.Role,
		})
	case http.MethodPut:
		var payload struct {
			UserID string      `json:"user_id"`
			Role   domain.Role `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.team.ChangeRole(req.Context(), info.UserID, teamID, payload.UserID, payload.Role); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		var payload struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.team.RemoveMember(req.Context(), info.UserID, teamID, payload.UserID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamWebhooks(w http.ResponseWriter, req *http.Request, teamID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		hooks, err := r.webhook.List(req.Context(), info.UserID, teamID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hooks)
	case http.MethodPost:
		var payload struct {
			URL    string `json:"url"`
			Secret string `json:"secret"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		hook, err := r.webhook.Create(req.Context(), info.UserID, teamID, payload.URL, payload.Secret)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      hook.ID,
			"team_id": hook.TeamID,
			"url":     hook.URL,
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamWebhookDelete(w http.ResponseWriter, req *http.Request, teamID, webhookID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if err := r.webhook.Delete(req.Context(), info.UserID, teamID, webhookID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleTeamEvents streams membership events for a team the requester can
// see, over websocket when the client asks for an upgrade and SSE otherwise.
func (r *Router) handleTeamEvents(w http.ResponseWriter, req *http.Request, teamID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if _, err := r.access.Resolve(req.Context(), info.UserID, teamID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}

	if websocket.IsWebSocketUpgrade(req) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		client := ws.NewClient(conn, r.logger)
		r.hub.Register(teamID, client)
		go func() {
			<-client.Done()
			r.hub.Unregister(teamID, client)
			client.Close()
		}()
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "streaming not supported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(teamID, client)
	defer func() {
		r.hub.Unregister(teamID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		actor := "anonymous"
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses team-scoped paths so metric label cardinality stays
// bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, "/teams/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/teams/")
	if rest == "search" {
		return "/teams/search"
	}
	parts := strings.Split(rest, "/")
	if len(parts) == 1 {
		return "/teams/{id}"
	}
	return "/teams/{id}/" + parts[1]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func marshalTeam(team domain.Team) map[string]any {
	return map[string]any{
		"id":          team.ID,
		"name":        team.Name,
		"description": team.Description,
	}
}

func marshalTeams(teams []domain.Team) []map[string]any {
	payload := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		payload = append(payload, marshalTeam(team))
	}
	return payload
}

func marshalUser(user domain.User) map[string]any {
	return map[string]any{
		"id":   user.ID,
		"name": user.Username,
	}
}

func marshalMembers(members []domain.Member) []map[string]any {
	payload := make([]map[string]any, 0, len(members))
	for _, member := range members {
		payload = append(payload, map[string]any{
			"user_id":  member.UserID,
			"username": member.Username,
			"role":     member.Role,
		})
	}
	return payload
}
