package chain

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shouni/image-fallback-kit/pkg/providers"
)

// DefaultOrder は優先順位の設定がない場合の順序です。
const DefaultOrder = "gemini,replicate,fal"

// Chain はフォールバックに使う有効なプロバイダの順序付きリストです。生成後は読み取り専用です。
type Chain struct {
	providers []string
}

// Providers は順序を保ったコピーを返します。
func (c Chain) Providers() []string {
	return slices.Clone(c.providers)
}

// Enabled は name がチェーンに含まれるかどうかを返します。
func (c Chain) Enabled(name string) bool {
	return slices.Contains(c.providers, strings.ToLower(strings.TrimSpace(name)))
}

// Len はプロバイダ数を返します。
func (c Chain) Len() int { return len(c.providers) }

// Empty はチェーンが空かどうかを返します。
func (c Chain) Empty() bool { return len(c.providers) == 0 }

// ParseOrder はカンマ区切りの順序指定を分解します。空の場合は DefaultOrder を使います。
func ParseOrder(s string) []string {
	if strings.TrimSpace(s) == "" {
		s = DefaultOrder
	}
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Resolve は順序指定から未知のプロバイダと資格情報のないプロバイダを除外し、重複を取り除きます。
// 除外したプロバイダはログに残します。空のチェーンでもエラーにはしません。
func Resolve(order []string, hasCredential func(string) bool) Chain {
	ctx := context.Background()
	var out []string
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case name == "":
			continue
		case !providers.IsKnown(name):
			slog.WarnContext(ctx, "未知のプロバイダをスキップします", "provider", raw)
		case slices.Contains(out, name):
			continue
		case hasCredential == nil || !hasCredential(name):
			slog.WarnContext(ctx, "資格情報がないためプロバイダをスキップします", "provider", name)
		default:
			out = append(out, name)
		}
	}

	if len(out) == 0 {
		slog.WarnContext(ctx, "有効な画像生成プロバイダがありません", "order", order)
	} else {
		slog.InfoContext(ctx, "プロバイダチェーンを解決しました", "chain", out)
	}
	return Chain{providers: out}
}

// New は名前のリストからそのままチェーンを作ります。テストや明示的な構成に使います。
func New(names ...string) Chain {
	return Chain{providers: slices.Clone(names)}
}

// Resolver はプロセス内でチェーンを一度だけ解決して保持します。
type Resolver struct {
	order         func() []string
	hasCredential func(string) bool

	once  sync.Once
	mu    sync.Mutex
	chain Chain
}

// NewResolver は Resolver を初期化します。order と hasCredential は最初の Chain 呼び出し時に評価されます。
func NewResolver(order func() []string, hasCredential func(string) bool) *Resolver {
	return &Resolver{order: order, hasCredential: hasCredential}
}

// Chain は解決済みのチェーンを返します。初回のみ解決を行います。
func (r *Resolver) Chain() Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.once.Do(func() {
		var order []string
		if r.order != nil {
			order = r.order()
		}
		r.chain = Resolve(order, r.hasCredential)
	})
	return r.chain
}

// Enabled は解決済みのチェーンに name が含まれるかどうかを返します。
func (r *Resolver) Enabled(name string) bool {
	return r.Chain().Enabled(name)
}

// Reset はキャッシュを破棄し、次回の呼び出しで再解決させます。
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.once = sync.Once{}
	r.chain = Chain{}
}
