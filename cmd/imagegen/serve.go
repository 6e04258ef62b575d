package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/image-fallback-kit/pkg/api"
	"github.com/shouni/image-fallback-kit/pkg/config"
)

func newServeCmd(load func() config.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "画像生成 API サーバーを起動します",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := api.NewServer(a.orch, a.usage)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("API サーバーを起動しました", "addr", cfg.HTTPAddr, "chain", a.orch.Chain().Providers())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("API サーバーを停止します")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "待ち受けアドレス（既定は HTTP_ADDR）")
	return cmd
}
