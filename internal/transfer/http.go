package transfer

import (
	"context"
	"fmt"
	"net/http"

	"asset-harvester/internal/model"
)

type HTTPOptions struct {
	Workers   int
	ProxyMode string
	Proxies   []string
	UserAgent string
}

// HTTPFetcher downloads web assets. Each worker gets its own client so that
// per-worker proxies keep separate connection pools.
type HTTPFetcher struct {
	userAgent string
	clients   []*http.Client
}

func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	workers := max(opts.Workers, 1)
	proxies := NormalizeProxyList(opts.Proxies)
	f := &HTTPFetcher{userAgent: opts.UserAgent, clients: make([]*http.Client, workers)}
	for w := 1; w <= workers; w++ {
		tr, err := proxyTransport(proxyForWorker(w, opts.ProxyMode, proxies))
		if err != nil {
			return nil, err
		}
		f.clients[w-1] = &http.Client{Transport: tr}
	}
	return f, nil
}

func (f *HTTPFetcher) client(worker int) *http.Client {
	if worker >= 1 && worker <= len(f.clients) {
		return f.clients[worker-1]
	}
	if len(f.clients) > 0 {
		return f.clients[0]
	}
	return http.DefaultClient
}

func (f *HTTPFetcher) Open(ctx context.Context, req Request) (*Body, error) {
	resp, err := f.get(ctx, req, req.Offset)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && req.Offset > 0 {
		resp.Body.Close()
		if resp, err = f.get(ctx, req, 0); err != nil {
			return nil, err
		}
		req.Offset = 0
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Ref: req.Item.SourceRef}
	}
	return bodyFromResponse(resp, req.Item.SourceRef, req.Offset)
}

func (f *HTTPFetcher) get(ctx context.Context, req Request, offset int64) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Item.SourceRef, nil)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, req.Item.SourceRef, err)
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", rangeHeader(offset))
	}
	resp, err := f.client(req.Worker).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.Item.SourceRef, err)
	}
	return resp, nil
}
