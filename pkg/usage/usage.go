package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shouni/image-fallback-kit/pkg/domain"
)

// 記録のステータスです。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record は1回のオーケストレーション呼び出しの利用記録です。
type Record struct {
	Provider     string
	Model        string
	Operation    domain.Operation
	LatencyMs    int64
	Status       string
	UsedFallback bool
	ErrorMessage string
}

// NewRecord は呼び出し結果から Record を組み立てます。失敗時は res が nil でも構いません。
func NewRecord(op domain.Operation, res *domain.OrchestrationResult, err error, latency time.Duration) Record {
	rec := Record{
		Operation: op,
		LatencyMs: latency.Milliseconds(),
		Status:    StatusSuccess,
	}
	if res != nil {
		rec.Provider = res.UsedProvider
		rec.Model = res.UsedModel
		rec.UsedFallback = res.UsedFallback
	}
	if err != nil {
		rec.Status = StatusError
		rec.ErrorMessage = err.Error()
	}
	return rec
}

// Logger は利用記録の出力先です。
type Logger interface {
	Log(ctx context.Context, rec Record) error
}

// SlogLogger は利用記録を構造化ログとして出力します。
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger は SlogLogger を初期化します。logger が nil の場合は slog.Default() を使います。
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Log(ctx context.Context, rec Record) error {
	attrs := []any{
		"provider", rec.Provider,
		"model", rec.Model,
		"operation", rec.Operation,
		"latency_ms", rec.LatencyMs,
		"status", rec.Status,
		"fallback", rec.UsedFallback,
	}
	if rec.ErrorMessage != "" {
		attrs = append(attrs, "error", rec.ErrorMessage)
	}
	l.logger.InfoContext(ctx, "image usage", attrs...)
	return nil
}

// PostgresLogger は利用記録を image_generation_usage テーブルに保存します。
type PostgresLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresLogger は DSN から接続プールを作成します。
func NewPostgresLogger(ctx context.Context, dsn string) (*PostgresLogger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresLogger{pool: pool}, nil
}

// Schema は記録先テーブルの定義です。
const Schema = `
CREATE TABLE IF NOT EXISTS image_generation_usage (
	id            BIGSERIAL PRIMARY KEY,
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	operation     TEXT NOT NULL,
	latency_ms    BIGINT NOT NULL,
	status        TEXT NOT NULL,
	used_fallback BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema はテーブルがなければ作成します。
func (l *PostgresLogger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create usage table: %w", err)
	}
	return nil
}

func (l *PostgresLogger) Log(ctx context.Context, rec Record) error {
	_, err := l.pool.Exec(ctx, `
INSERT INTO image_generation_usage(provider, model, operation, latency_ms, status, used_fallback, error_message)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''))`,
		rec.Provider, rec.Model, string(rec.Operation), rec.LatencyMs, rec.Status, rec.UsedFallback, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert image usage: %w", err)
	}
	return nil
}

func (l *PostgresLogger) Close() {
	if l != nil && l.pool != nil {
		l.pool.Close()
	}
}
