package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/providers"
	"github.com/shouni/image-fallback-kit/pkg/usage"
)

// maxRequestBody は base64 画像を含むリクエストボディの上限です。
const maxRequestBody = 64 << 20

// ImageService はフォールバック付きの画像生成を提供します。*orchestrator.Orchestrator が満たします。
type ImageService interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.OrchestrationResult, error)
	Edit(ctx context.Context, req domain.EditRequest) (*domain.OrchestrationResult, error)
	Chain() chain.Chain
}

// Server は画像生成 API の HTTP 境界です。
type Server struct {
	svc    ImageService
	usage  usage.Logger
	router *mux.Router
}

// NewServer はルーティングを登録した Server を返します。usageLogger が nil の場合は slog に出力します。
func NewServer(svc ImageService, usageLogger usage.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("svc is required")
	}
	if usageLogger == nil {
		usageLogger = usage.NewSlogLogger(nil)
	}
	s := &Server{svc: svc, usage: usageLogger, router: mux.NewRouter()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/providers", s.handleProviders).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/images/generate", s.handleGenerate).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/images/edit", s.handleEdit).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type providerStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	c := s.svc.Chain()
	known := make([]providerStatus, 0, len(providers.Known))
	for _, name := range providers.Known {
		known = append(known, providerStatus{Name: name, Enabled: c.Enabled(name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain":     c.Providers(),
		"providers": known,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.WarnContext(r.Context(), "リクエストの解析に失敗しました", "path", r.URL.Path, "error", err)
		writeError(w, err)
		return
	}
	s.serve(w, r, domain.OperationGenerate, func(ctx context.Context) (*domain.OrchestrationResult, error) {
		return s.svc.Generate(ctx, req)
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req domain.EditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.WarnContext(r.Context(), "リクエストの解析に失敗しました", "path", r.URL.Path, "error", err)
		writeError(w, err)
		return
	}
	s.serve(w, r, domain.OperationEdit, func(ctx context.Context) (*domain.OrchestrationResult, error) {
		return s.svc.Edit(ctx, req)
	})
}

// serve はオーケストレーターを呼び出し、利用記録を残してから応答します。
func (s *Server) serve(w http.ResponseWriter, r *http.Request, op domain.Operation, call func(ctx context.Context) (*domain.OrchestrationResult, error)) {
	ctx := r.Context()
	start := time.Now()
	res, err := call(ctx)

	if logErr := s.usage.Log(ctx, usage.NewRecord(op, res, err, time.Since(start))); logErr != nil {
		slog.WarnContext(ctx, "利用記録の保存に失敗しました", "operation", op, "error", logErr)
	}

	if err != nil {
		slog.ErrorContext(ctx, "画像処理に失敗しました", "operation", op, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrInvalidRequest, err)
	}
	return nil
}

// errorResponse は利用者向けの応答です。元のエラー文はログにのみ残します。
type errorResponse struct {
	Error string           `json:"error"`
	Kind  failure.UserKind `json:"kind"`
}

// statusFor はリクエスト不備を 400、クォータ系を 429、それ以外を 500 に対応付けます。
func statusFor(err error) int {
	if errors.Is(err, failure.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return failure.HTTPStatus(err)
}

func writeError(w http.ResponseWriter, err error) {
	kind := failure.Kind(err)
	writeJSON(w, statusFor(err), errorResponse{
		Error: failure.UserMessage(kind),
		Kind:  kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
