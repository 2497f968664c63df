package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<a href="/files/a.pdf">a</a><a href="/more">more</a><a href="/gone">gone</a>`)
	})
	mux.HandleFunc("/more", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="files/b.xlsx">b</a>`)
	})
	mux.HandleFunc("/files/a.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticFetcher(t *testing.T) {
	srv := newSite(t)
	f := NewStaticFetcher(5*time.Second, "asset-harvester-test")

	page, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "/files/a.pdf")
	assert.Equal(t, srv.URL+"/", page.URL)

	page, err = f.Fetch(context.Background(), srv.URL+"/files/a.pdf")
	require.NoError(t, err)
	assert.Empty(t, page.HTML)

	_, err = f.Fetch(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStaticFetcher_WithRenderedStrategy(t *testing.T) {
	srv := newSite(t)
	s := &RenderedStrategy{
		Fetcher:  NewStaticFetcher(5*time.Second, ""),
		Policy:   DefaultAssetPolicy(),
		MaxDepth: 2,
		Logger:   zerolog.Nop(),
	}

	items, err := discoverAll(t, s, srv.URL+"/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{srv.URL + "/files/a.pdf", srv.URL + "/files/b.xlsx"}, sourceRefs(items))
}
