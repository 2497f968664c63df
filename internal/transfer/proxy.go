package transfer

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"asset-harvester/internal/model"
)

const (
	ProxyModeOff       = "off"
	ProxyModeShared    = "shared"
	ProxyModePerWorker = "per_worker"
)

// NormalizeProxyMode maps raw input to a known mode; unknown values are
// reported as "".
func NormalizeProxyMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ProxyModeOff:
		return ProxyModeOff
	case ProxyModeShared:
		return ProxyModeShared
	case ProxyModePerWorker, "per-worker":
		return ProxyModePerWorker
	default:
		return ""
	}
}

func NormalizeProxyList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// proxyForWorker returns the proxy of a 1-based worker id, or "" for a
// direct connection.
func proxyForWorker(workerID int, mode string, proxies []string) string {
	switch NormalizeProxyMode(mode) {
	case ProxyModeShared:
		if len(proxies) == 0 {
			return ""
		}
		return proxies[0]
	case ProxyModePerWorker:
		if workerID <= 0 || workerID > len(proxies) {
			return ""
		}
		return proxies[workerID-1]
	default:
		return ""
	}
}

func proxyTransport(proxy string) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy == "" {
		return tr, nil
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, model.Wrap(model.ErrConfig, proxy, fmt.Errorf("invalid proxy URL"))
	}
	tr.Proxy = http.ProxyURL(u)
	return tr, nil
}
