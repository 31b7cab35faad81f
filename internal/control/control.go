// Package control serves the results web pages, the report upload endpoint
// and an authenticated RPC and websocket interface to the probe engine.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/geo"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/metrics"
	"github.com/NodePath81/latprobe/internal/store"
	"github.com/NodePath81/latprobe/internal/util"
	"github.com/NodePath81/latprobe/internal/version"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

const (
	maxRPCBodyBytes   = 1 << 20
	rpcRatePerSecond  = 5
	rpcRateBurst      = 10
	limiterTTL        = 5 * time.Minute
	recentSessions    = 10
	maxWakeTrials     = 10000
	wsTokenPrefix     = "latprobe-token."
	wsPrimaryProtocol = "latprobe"
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

// Deps are the collaborators of a Server. Geo may be nil.
type Deps struct {
	Store   *store.Store
	Geo     *geo.Resolver
	Metrics *metrics.Metrics
	Hub     *StatusHub
	Engine  *jitter.Engine
	// JitterDefaults fills the fields a RunJitter call leaves out.
	JitterDefaults jitter.Params
	// Wake is the probe configuration used by RunWake.
	Wake   wakeprobe.Config
	Logger util.Logger
}

type Server struct {
	cfg      config.ServerConfig
	store    *store.Store
	geo      *geo.Resolver
	metrics  *metrics.Metrics
	hub      *StatusHub
	engine   *jitter.Engine
	defaults jitter.Params
	wakeCfg  wakeprobe.Config
	logger   util.Logger
	server   *http.Server
	addr     net.Addr
	limiter  *rateLimiter
	uploads  *rateLimiter

	wakeMu   sync.Mutex
	sessions sync.WaitGroup
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		geo:      deps.Geo,
		metrics:  deps.Metrics,
		hub:      deps.Hub,
		engine:   deps.Engine,
		defaults: deps.JitterDefaults,
		wakeCfg:  deps.Wake,
		logger:   logger,
		limiter:  newRateLimiter(rpcRatePerSecond, rpcRateBurst, limiterTTL),
		uploads:  newRateLimiter(cfg.UploadRate, cfg.UploadBurst, limiterTTL),
	}
}

// Handler returns the routing table of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.handleIndex)
	mux.HandleFunc("/guestbook", s.handleGuestbook)
	mux.HandleFunc("/item/{id}", s.handleItem)
	mux.HandleFunc("/sign", s.handleSign)
	if s.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := util.NetJoin(s.cfg.BindAddr, s.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()
	s.logger.Info("control server started", "addr", ln.Addr().String(), "max_connections", s.cfg.MaxConnections)
	return nil
}

// Addr is the listening address once Start has returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops the listener and waits for sessions started over RPC.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// runJitterParams overrides the server defaults; absent fields keep them.
type runJitterParams struct {
	SampleRate    *int  `json:"sample_rate"`
	BufferSize    *int  `json:"buffer_size"`
	TrialLength   *int  `json:"trial_length"`
	CallbackDelay *int  `json:"callback_delay"`
	RenderDelay   *int  `json:"render_delay"`
	Pulse         *bool `json:"pulse"`
	Lookahead     *int  `json:"lookahead"`
	WarmupSkip    *int  `json:"warmup_skip"`
	// Wait blocks the call until the session finishes.
	Wait bool `json:"wait"`
}

type runWakeParams struct {
	Trials   int `json:"trials"`
	PeriodMs int `json:"period_ms"`
}

type jitterResult struct {
	SessionID string  `json:"session_id"`
	Sink      string  `json:"sink,omitempty"`
	JitterMs  float64 `json:"jitter_ms"`
	MinMark   float64 `json:"min_mark"`
	MaxMark   float64 `json:"max_mark"`
	Underruns int     `json:"underruns"`
	Text      string  `json:"text,omitempty"`
	Pending   bool    `json:"pending,omitempty"`
}

type sessionEntry struct {
	ID          string  `json:"id"`
	Sink        string  `json:"sink"`
	SampleRate  int     `json:"sample_rate"`
	BufferSize  int     `json:"buffer_size"`
	Length      int     `json:"length"`
	CbDelay     int     `json:"cb_delay"`
	RenderDelay int     `json:"render_delay"`
	Pulse       bool    `json:"pulse"`
	JitterMs    float64 `json:"jitter_ms"`
	Underruns   int     `json:"underruns"`
	Created     int64   `json:"created"`
}

type statusResponse struct {
	Version        string         `json:"version"`
	Sink           string         `json:"sink"`
	ActiveSession  string         `json:"active_session,omitempty"`
	Reports        int            `json:"reports"`
	RecentSessions []sessionEntry `json:"recent_sessions"`
	Metrics        map[string]any `json:"metrics"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !s.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}
	switch req.Method {
	case "RunJitter":
		var params runJitterParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
				return
			}
		}
		s.runJitter(w, params)
	case "RunWake":
		var params runWakeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
				return
			}
		}
		s.runWake(w, params)
	case "GetStatus":
		resp, err := s.getStatus(r.Context())
		if err != nil {
			s.logger.Error("status query failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, rpcResponse{Ok: false, Error: "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: resp})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func (p runJitterParams) apply(base jitter.Params) jitter.Params {
	set := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	set(&base.SampleRate, p.SampleRate)
	set(&base.BufferSize, p.BufferSize)
	set(&base.TrialLength, p.TrialLength)
	set(&base.CallbackDelay, p.CallbackDelay)
	set(&base.RenderDelay, p.RenderDelay)
	set(&base.Lookahead, p.Lookahead)
	set(&base.WarmupSkip, p.WarmupSkip)
	if p.Pulse != nil {
		base.Pulse = *p.Pulse
	}
	if p.TrialLength != nil && p.WarmupSkip == nil && base.WarmupSkip >= base.TrialLength {
		base.WarmupSkip = max(base.TrialLength-1, 0)
	}
	return base
}

func (s *Server) runJitter(w http.ResponseWriter, params runJitterParams) {
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "engine not ready"})
		return
	}
	session, err := s.engine.Begin(params.apply(s.defaults))
	switch {
	case errors.Is(err, jitter.ErrSessionActive):
		writeJSON(w, http.StatusConflict, rpcResponse{Ok: false, Error: err.Error()})
		return
	case errors.Is(err, jitter.ErrInvalidParams):
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, rpcResponse{Ok: false, Error: err.Error()})
		return
	}
	s.logger.Info("jitter session triggered", "session", session.ID(), "source", "rpc")

	if !params.Wait {
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			if _, err := session.Run(); err != nil {
				s.logger.Warn("jitter session failed", "session", session.ID(), "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, rpcResponse{Ok: true, Result: jitterResult{SessionID: session.ID(), Pending: true}})
		return
	}

	res, err := session.Run()
	if err != nil {
		writeJSON(w, http.StatusBadGateway, rpcResponse{Ok: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: jitterResult{
		SessionID: res.SessionID,
		Sink:      res.Sink,
		JitterMs:  res.JitterMs,
		MinMark:   res.MinMark,
		MaxMark:   res.MaxMark,
		Underruns: res.Underruns,
		Text:      res.Text,
	}})
}

func (s *Server) runWake(w http.ResponseWriter, params runWakeParams) {
	if params.Trials < 0 || params.Trials > maxWakeTrials || params.PeriodMs < 0 {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: fmt.Sprintf("trials must be in 0..%d and period_ms >= 0", maxWakeTrials)})
		return
	}
	if !s.wakeMu.TryLock() {
		writeJSON(w, http.StatusConflict, rpcResponse{Ok: false, Error: "wake probe already running"})
		return
	}
	defer s.wakeMu.Unlock()

	cfg := s.wakeCfg
	if params.Trials > 0 {
		cfg.Trials = params.Trials
	}
	if params.PeriodMs > 0 {
		cfg.Period = time.Duration(params.PeriodMs) * time.Millisecond
	}
	s.logger.Info("wake probe triggered", "trials", cfg.Trials, "period", cfg.Period, "source", "rpc")
	res := wakeprobe.Run(cfg, s.logger)
	s.metrics.ObserveWake(res)
	s.hub.WakeFinished(res)
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: newWakeEvent(res)})
}

func (s *Server) getStatus(ctx context.Context) (statusResponse, error) {
	resp := statusResponse{
		Version: version.Version,
		Metrics: s.metrics.Snapshot(),
	}
	if s.engine != nil {
		resp.Sink = s.engine.SinkName()
		resp.ActiveSession, _ = s.engine.Active()
	}
	n, err := s.store.CountReports(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	resp.Reports = n
	recs, err := s.store.RecentSessions(ctx, recentSessions)
	if err != nil {
		return statusResponse{}, err
	}
	resp.RecentSessions = make([]sessionEntry, 0, len(recs))
	for _, rec := range recs {
		resp.RecentSessions = append(resp.RecentSessions, sessionEntry{
			ID:          rec.ID,
			Sink:        rec.Sink,
			SampleRate:  rec.SampleRate,
			BufferSize:  rec.BufferSize,
			Length:      rec.Length,
			CbDelay:     rec.CbDelay,
			RenderDelay: rec.RenderDelay,
			Pulse:       rec.Pulse,
			JitterMs:    rec.JitterMs,
			Underruns:   rec.Underruns,
			Created:     rec.Created.UnixMilli(),
		})
	}
	return resp, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkStatusAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return originAllowed(r) },
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	client := newStatusClient()
	s.hub.Register(client)

	var closeOnce sync.Once
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	var subMu sync.Mutex
	stopTicker := func() {
		subMu.Lock()
		if client.tickerCancel != nil {
			client.tickerCancel()
			client.tickerCancel = nil
		}
		client.subscribed = false
		client.intervalMs = 0
		subMu.Unlock()
	}

	sendJSON := func(msg statusMessage) {
		select {
		case <-done:
			return
		default:
		}
		msg.SchemaVersion = 1
		msg.Timestamp = time.Now().UnixMilli()
		data, _ := json.Marshal(msg)
		client.trySend(data)
	}
	sendError := func(code, message string) {
		sendJSON(statusMessage{Type: "error", Error: &statusError{Code: code, Message: message}})
	}
	sendSnapshot := func() {
		sendJSON(statusMessage{Type: "metrics_snapshot", Metrics: s.metrics.Snapshot()})
	}

	startTicker := func(intervalMs int, sendInitial bool) {
		stopTicker()
		subMu.Lock()
		client.subscribed = true
		client.intervalMs = intervalMs
		ctx, cancel := context.WithCancel(context.Background())
		client.tickerCancel = cancel
		subMu.Unlock()

		if sendInitial {
			sendSnapshot()
		}
		go func() {
			ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-ticker.C:
					sendSnapshot()
				}
			}
		}()
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			stopTicker()
			closeConn()
			s.hub.Unregister(client)
		})
	}

	sendSnapshot()

	go func() {
		defer cleanup()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type       string `json:"type"`
				IntervalMs int    `json:"interval_ms"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			switch req.Type {
			case "subscribe":
				if req.IntervalMs != 1000 && req.IntervalMs != 2000 && req.IntervalMs != 5000 {
					sendError("invalid_interval", "interval_ms must be 1000, 2000, or 5000")
					continue
				}
				subMu.Lock()
				alreadySubscribed := client.subscribed
				subMu.Unlock()
				startTicker(req.IntervalMs, !alreadySubscribed)
			case "unsubscribe":
				stopTicker()
			default:
				sendError("unknown_type", "type must be subscribe or unsubscribe")
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.metrics.Handler(w, r)
}

// checkAuth rejects every request when no token is configured.
func (s *Server) checkAuth(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, s.cfg.AuthToken)
}

func (s *Server) checkStatusAuth(r *http.Request) bool {
	if token, ok := bearerToken(r); ok {
		return secureTokenEqual(token, s.cfg.AuthToken)
	}
	if token, ok := tokenFromWebSocketProtocols(r); ok {
		return secureTokenEqual(token, s.cfg.AuthToken)
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func tokenFromWebSocketProtocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if !strings.HasPrefix(proto, wsTokenPrefix) {
			continue
		}
		encoded := strings.TrimPrefix(proto, wsTokenPrefix)
		if encoded == "" {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded), true
	}
	return "", false
}

func secureTokenEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
