package transfer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"asset-harvester/internal/model"
)

// rangeRejectingServer answers every ranged request with 416 and serves the
// whole object otherwise.
func rangeRejectingServer(t *testing.T, content string, rangedBody string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var ranged atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			io.WriteString(w, rangedBody)
			return
		}
		w.Header().Set("Content-Length", "16")
		io.WriteString(w, content)
	}))
	t.Cleanup(srv.Close)
	return srv, &ranged
}

// fullPart places a complete-looking partial file, as left by a crash between
// sync and rename.
func fullPart(t *testing.T, root string, it model.Item, data string) string {
	t.Helper()
	final := filepath.Join(root, filepath.FromSlash(it.DestPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755))
	require.NoError(t, os.WriteFile(final+PartSuffix, []byte(data), 0o644))
	return final
}

func TestDriveFetcher_RangeNotSatisfiableRestarts(t *testing.T) {
	const content = "0123456789abcdef"
	srv, ranged := rangeRejectingServer(t, content, `{"error":{"code":416,"message":"range not satisfiable"}}`)
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	it := model.Item{SourceRef: model.DriveRefPrefix + "abc", DestPath: "GoogleDrive/folder/report.pdf", Kind: model.KindDrive}
	it.ID = model.ItemID(it.SourceRef, it.DestPath)
	root := t.TempDir()
	final := fullPart(t, root, it, content)

	ledger := newMemLedger(it)
	pool := newPool(t, root, Router{model.KindDrive: &DriveFetcher{Service: svc}}, ledger, fastPolicy(3))
	require.NoError(t, pool.Run(context.Background(), NewQueue(it.ID)))

	got := ledger.get(it.ID)
	assert.Equal(t, model.StatusCompleted, got.Status, got.LastError)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int32(1), ranged.Load())
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestS3Fetcher_RangeNotSatisfiableRestarts(t *testing.T) {
	const content = "fedcba9876543210"
	srv, ranged := rangeRejectingServer(t, content,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>InvalidRange</Code><Message>The requested range is not satisfiable</Message></Error>`)
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
		HTTPClient:   srv.Client(),
	})

	it := model.Item{SourceRef: "s3://bucket/docs/report.pdf", DestPath: "s3/bucket/docs/report.pdf", Kind: model.KindS3}
	it.ID = model.ItemID(it.SourceRef, it.DestPath)
	root := t.TempDir()
	final := fullPart(t, root, it, strings.Repeat("x", len(content)))

	ledger := newMemLedger(it)
	pool := newPool(t, root, Router{model.KindS3: &S3Fetcher{Client: client}}, ledger, fastPolicy(3))
	require.NoError(t, pool.Run(context.Background(), NewQueue(it.ID)))

	got := ledger.get(it.ID)
	assert.Equal(t, model.StatusCompleted, got.Status, got.LastError)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int32(1), ranged.Load())
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestIsRangeNotSatisfiable(t *testing.T) {
	assert.False(t, isRangeNotSatisfiable(nil))
	assert.False(t, isRangeNotSatisfiable(io.ErrUnexpectedEOF))
}
