package assets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
)

// ErrUnsafeURL は SSRF 対策で拒否した URL を示します。
var ErrUnsafeURL = errors.New("unsafe url")

// lookupHost は名前解決を行います。テストで差し替えます。
var lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// cgnat はキャリアグレード NAT の共有アドレス空間です。
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// CheckRemoteURL は参照画像の取得先として安全な http(s) URL かどうかを検証します。
// 名前解決したすべてのアドレスが公開アドレスである必要があります。
func CheckRemoteURL(ctx context.Context, rawURL string) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: URLパース失敗: %v", ErrUnsafeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: 不許可スキーム: %s", ErrUnsafeURL, u.Scheme)
	}

	host := u.Hostname()
	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = lookupHost(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: ホスト '%s' の名前解決に失敗しました: %v", ErrUnsafeURL, host, err)
		}
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: ホスト '%s' のアドレスが見つかりません", ErrUnsafeURL, host)
	}

	for _, addr := range addrs {
		if !isPublic(addr.Unmap()) {
			return fmt.Errorf("%w: 制限されたネットワークへのアクセスを検知: %s", ErrUnsafeURL, addr)
		}
	}
	return nil
}

func isPublic(a netip.Addr) bool {
	return a.IsValid() &&
		!a.IsPrivate() &&
		!a.IsLoopback() &&
		!a.IsLinkLocalUnicast() &&
		!a.IsLinkLocalMulticast() &&
		!a.IsUnspecified() &&
		!a.IsMulticast() &&
		!cgnat.Contains(a)
}
