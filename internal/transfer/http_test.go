package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/retry"
)

func TestParseContentRange(t *testing.T) {
	cases := []struct {
		in    string
		start int64
		total int64
		ok    bool
	}{
		{in: "bytes 6-15/16", start: 6, total: 16, ok: true},
		{in: "bytes 0-99/*", start: 0, total: -1, ok: true},
		{in: "bytes */16"},
		{in: "items 1-2/3"},
		{in: ""},
	}
	for _, tc := range cases {
		start, total, ok := parseContentRange(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.start, start, tc.in)
			assert.Equal(t, tc.total, total, tc.in)
		}
	}
}

func TestHTTPFetcher_RangeNotSatisfiableRestarts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		io.WriteString(w, "whole")
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPOptions{Workers: 1, UserAgent: "test"})
	require.NoError(t, err)
	body, err := f.Open(context.Background(), Request{Item: webItem(srv.URL, "x.txt"), Offset: 40, Worker: 1})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int64(0), body.Offset)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "whole", string(data))
}

func TestHTTPFetcher_StatusErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone.pdf":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPOptions{})
	require.NoError(t, err)

	_, err = f.Open(context.Background(), Request{Item: webItem(srv.URL, "gone.pdf")})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusGone, se.StatusCode())
	assert.True(t, retry.IsPermanent(err))

	_, err = f.Open(context.Background(), Request{Item: webItem(srv.URL, "busy.pdf")})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestHTTPFetcher_PerWorkerProxyValidation(t *testing.T) {
	_, err := NewHTTPFetcher(HTTPOptions{Workers: 2, ProxyMode: ProxyModePerWorker, Proxies: []string{"http://p1:1", "::bad"}})
	require.Error(t, err)

	f, err := NewHTTPFetcher(HTTPOptions{Workers: 2, ProxyMode: ProxyModePerWorker, Proxies: []string{"http://p1:1", "http://p2:2"}})
	require.NoError(t, err)
	assert.Len(t, f.clients, 2)
	assert.NotSame(t, f.client(1), f.client(2))
	assert.Same(t, f.client(1), f.client(9))
}
