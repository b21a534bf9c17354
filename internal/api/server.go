package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OpenMCP-Wallet/internal/auth"
	"OpenMCP-Wallet/internal/connector"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/observability/metrics"
	"OpenMCP-Wallet/internal/session"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/pkg/logger"
)

// Options 汇总 API 服务依赖的组件，除 Session 外均可为空。
// Auth 为空时不做认证。
type Options struct {
	Session   session.Service
	Auth      *auth.Service
	Providers func() []string
	Injected  *provider.Injected
	Metrics   *metrics.Metrics
}

// Server 负责暴露 REST 接口，供外部驱动钱包会话。
type Server struct {
	addr string
	opts Options
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts Options) *Server {
	return &Server{addr: addr, opts: opts, log: logger.Named("api")}
}

// Handler 返回完整路由，便于测试直接挂载到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/v1/session", auth.PermissionSessionRead, s.handleSession)
	s.route(mux, "/api/v1/session/connect", auth.PermissionSessionWrite, s.handleConnect)
	s.route(mux, "/api/v1/session/disconnect", auth.PermissionSessionWrite, s.handleDisconnect)
	s.route(mux, "/api/v1/providers", auth.PermissionSessionRead, s.handleProviders)
	s.route(mux, "/api/v1/injected/accounts", auth.PermissionInjectedWrite, s.handleInjectedAccounts)
	s.route(mux, "/api/v1/injected/chain", auth.PermissionInjectedWrite, s.handleInjectedChain)
	s.route(mux, "/api/v1/injected/close", auth.PermissionInjectedWrite, s.handleInjectedClose)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 注册处理器，要求调用方具备 perm 权限，并记录请求指标。
func (s *Server) route(mux *http.ServeMux, pattern, perm string, h http.HandlerFunc) {
	guard := s.opts.Auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {perm}},
		AuditEvent:          pattern,
	})
	protected := guard(h)
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		protected.ServeHTTP(sw, r)
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// sessionView 是会话的 JSON 表示。
type sessionView struct {
	Connected   bool       `json:"connected"`
	ID          string     `json:"id,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Transport   string     `json:"transport,omitempty"`
	Account     string     `json:"account,omitempty"`
	ChainID     string     `json:"chain_id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

func viewOf(snap session.Snapshot) sessionView {
	if !snap.Connected() {
		return sessionView{}
	}
	at := snap.ConnectedAt
	v := sessionView{
		Connected:   true,
		ID:          snap.ID,
		Provider:    snap.Provider,
		Transport:   snap.Client.Transport().String(),
		Account:     snap.Account,
		ConnectedAt: &at,
	}
	if snap.ChainID != nil {
		v.ChainID = snap.ChainID.String()
	}
	return v
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.opts.Session.Snapshot()))
}

type connectRequest struct {
	Provider string `json:"provider"`
}

// handleConnect 发起连接。已缓存的 provider 优先于请求中指定的 provider。
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req connectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
	}

	ctx := connector.WithChoice(r.Context(), req.Provider)
	s.log.Info("收到连接请求", slog.String("caller", auth.CallerName(ctx)), slog.String("provider", req.Provider))
	if err := s.opts.Session.Connect(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.opts.Session.Snapshot()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	s.log.Info("收到断开请求", slog.String("caller", auth.CallerName(r.Context())))
	if err := s.opts.Session.Disconnect(r.Context()); err != nil {
		// 会话已重置，错误仅供调用方知晓。
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.opts.Session.Snapshot()))
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	names := []string{}
	if s.opts.Providers != nil {
		names = append(names, s.opts.Providers()...)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

type accountsRequest struct {
	Accounts []string `json:"accounts"`
}

type chainRequest struct {
	ChainID int64 `json:"chain_id"`
}

func (s *Server) injected(w http.ResponseWriter, r *http.Request) *provider.Injected {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return nil
	}
	if s.opts.Injected == nil {
		http.Error(w, "注入式 provider 未启用", http.StatusNotFound)
		return nil
	}
	return s.opts.Injected
}

func (s *Server) handleInjectedAccounts(w http.ResponseWriter, r *http.Request) {
	p := s.injected(w, r)
	if p == nil {
		return
	}
	var req accountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	p.SetAccounts(req.Accounts...)
	writeJSON(w, http.StatusOK, viewOf(s.opts.Session.Snapshot()))
}

func (s *Server) handleInjectedChain(w http.ResponseWriter, r *http.Request) {
	p := s.injected(w, r)
	if p == nil {
		return
	}
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if err := p.SwitchChain(req.ChainID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// 链 ID 由会话异步重新查询，这里只确认已受理。
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInjectedClose(w http.ResponseWriter, r *http.Request) {
	p := s.injected(w, r)
	if p == nil {
		return
	}
	_ = p.Close(r.Context())
	writeJSON(w, http.StatusOK, viewOf(s.opts.Session.Snapshot()))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	attrs := []any{slog.String("code", string(code)), slog.String("severity", string(xerrors.SeverityOf(err))), slog.Any("error", err)}
	if xerrors.ShouldAlert(err) {
		s.log.Error("请求处理失败", attrs...)
	} else {
		s.log.Warn("请求处理失败", attrs...)
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: err.Error()})
}

func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotInitialized:
		return http.StatusServiceUnavailable
	case xerrors.CodeProviderClosed:
		return http.StatusConflict
	case xerrors.CodeProviderUnavailable, xerrors.CodeTransportFailure, xerrors.CodeInvalidAddress:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
