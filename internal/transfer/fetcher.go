package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"asset-harvester/internal/model"
)

type Request struct {
	Item model.Item
	// Offset is the size of an existing partial file the caller would like
	// to append to. Fetchers may ignore it and start from zero.
	Offset int64
	Worker int
}

// Body is an open object stream. Offset is the position of its first byte;
// Total is the full object size, or 0 when unknown.
type Body struct {
	io.ReadCloser
	Offset int64
	Total  int64
}

type Fetcher interface {
	Open(ctx context.Context, req Request) (*Body, error)
}

// StatusError is a non-success response from a remote store.
type StatusError struct {
	Code int
	Ref  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.Ref, e.Code)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Router dispatches requests to the fetcher registered for the item kind.
type Router map[model.Kind]Fetcher

func (r Router) Open(ctx context.Context, req Request) (*Body, error) {
	f, ok := r[req.Item.Kind]
	if !ok || f == nil {
		return nil, model.Wrap(model.ErrCredential, req.Item.SourceRef, fmt.Errorf("no fetcher configured for %s items", req.Item.Kind))
	}
	return f.Open(ctx, req)
}

func rangeHeader(offset int64) string {
	return "bytes=" + strconv.FormatInt(offset, 10) + "-"
}

// parseContentRange parses "bytes <start>-<end>/<total>". total is -1 when
// the server reports "*".
func parseContentRange(v string) (start, total int64, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !found {
		return 0, 0, false
	}
	span, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if strings.TrimSpace(size) == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}

// bodyFromResponse wraps a successful HTTP response. A 206 must start at the
// requested offset; anything else is treated as a full body.
func bodyFromResponse(resp *http.Response, ref string, offset int64) (*Body, error) {
	if resp.StatusCode == http.StatusPartialContent {
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			resp.Body.Close()
			return nil, model.Wrap(model.ErrTransfer, ref, fmt.Errorf("unexpected content range %q for offset %d", resp.Header.Get("Content-Range"), offset))
		}
		if total < 0 {
			total = 0
			if resp.ContentLength >= 0 {
				total = offset + resp.ContentLength
			}
		}
		return &Body{ReadCloser: resp.Body, Offset: offset, Total: total}, nil
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	return &Body{ReadCloser: resp.Body, Total: total}, nil
}
