package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shouni/image-fallback-kit/pkg/config"
	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/imgutil"
)

func newGenerateCmd(load func() config.Config) *cobra.Command {
	var (
		req      domain.GenerationRequest
		size     string
		tier     string
		products []string
		style    string
		person   string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "プロンプトから画像を生成します",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ImageSize = domain.ImageSize(size)
			req.ModelTier = domain.ModelTier(tier)
			for _, p := range products {
				img, err := loadImage(p)
				if err != nil {
					return err
				}
				req.ProductImages = append(req.ProductImages, img)
			}
			var err error
			if req.StyleReferenceImage, err = loadOptionalImage(style); err != nil {
				return err
			}
			if req.PersonReferenceImage, err = loadOptionalImage(person); err != nil {
				return err
			}

			return runWithApp(cmd.Context(), load(), func(ctx context.Context, a *app) (*domain.OrchestrationResult, error) {
				return a.orch.Generate(ctx, req)
			}, domain.OperationGenerate, out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Prompt, "prompt", "p", "", "生成プロンプト")
	f.StringVar(&req.AspectRatio, "aspect-ratio", "1:1", "アスペクト比")
	f.StringVar(&size, "size", "", "出力解像度 (1K, 2K, 4K)")
	f.StringVar(&tier, "tier", "", "モデルティア (standard, pro)")
	f.StringArrayVar(&products, "product", nil, "商品画像（ファイルパスまたは https:// / gs:// URL、複数指定可）")
	f.StringVar(&style, "style", "", "スタイル参照画像")
	f.StringVar(&person, "person", "", "人物参照画像")
	f.StringVarP(&out, "out", "o", "", "data: URI の結果を書き出すファイル")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newEditCmd(load func() config.Config) *cobra.Command {
	var (
		prompt    string
		imagePath string
		reference string
		tier      string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "既存の画像を編集します",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("画像の読み込みに失敗しました: %w", err)
			}
			req := domain.EditRequest{
				Prompt:      prompt,
				ImageBase64: base64.StdEncoding.EncodeToString(data),
				MimeType:    http.DetectContentType(data),
				ModelTier:   domain.ModelTier(tier),
			}
			if req.ReferenceImage, err = loadOptionalImage(reference); err != nil {
				return err
			}

			return runWithApp(cmd.Context(), load(), func(ctx context.Context, a *app) (*domain.OrchestrationResult, error) {
				return a.orch.Edit(ctx, req)
			}, domain.OperationEdit, out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&prompt, "prompt", "p", "", "編集指示")
	f.StringVarP(&imagePath, "image", "i", "", "編集する画像ファイル")
	f.StringVar(&reference, "reference", "", "参照画像")
	f.StringVar(&tier, "tier", "", "モデルティア (standard, pro)")
	f.StringVarP(&out, "out", "o", "", "data: URI の結果を書き出すファイル")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// runWithApp は依存関係を組み立てて1回だけ処理を実行し、結果を表示します。
func runWithApp(ctx context.Context, cfg config.Config, call func(ctx context.Context, a *app) (*domain.OrchestrationResult, error), op domain.Operation, out string) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := call(ctx, a)
	if err != nil {
		return err
	}

	fmt.Printf("provider: %s\nmodel:    %s\nfallback: %t\n", res.UsedProvider, res.UsedModel, res.UsedFallback)
	if data, mimeType, perr := imgutil.ParseDataURL(res.ImageURL); perr == nil {
		if out == "" {
			out = "output" + extensionFor(mimeType)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("画像の保存に失敗しました: %w", err)
		}
		fmt.Printf("saved:    %s\n", out)
		return nil
	}
	fmt.Printf("url:      %s\n", res.ImageURL)
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// loadImage は URL をそのまま、ファイルパスは base64 にして domain.Image にします。
func loadImage(src string) (domain.Image, error) {
	if strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "gs://") {
		return domain.Image{URL: src}, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return domain.Image{}, fmt.Errorf("画像の読み込みに失敗しました (%s): %w", src, err)
	}
	return domain.Image{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: http.DetectContentType(data),
	}, nil
}

func loadOptionalImage(src string) (*domain.Image, error) {
	if src == "" {
		return nil, nil
	}
	img, err := loadImage(src)
	if err != nil {
		return nil, err
	}
	return &img, nil
}
