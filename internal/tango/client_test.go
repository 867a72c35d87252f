package tango

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return New("http://"+u.Hostname(), u.Port(), "testkey", "awap_image", 600, logger.NewNop())
}

func TestOpenCourselab(t *testing.T) {
	var gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"statusMsg":"Found directory"}`))
	}))

	require.NoError(t, c.OpenCourselab(context.Background()))
	assert.Equal(t, "/open/testkey/awap/", gotPath)
}

func TestOpenCourselabBadStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := c.OpenCourselab(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProtocol))
}

func TestOpenCourselabConnectionRefused(t *testing.T) {
	c := New("http://127.0.0.1", "1", "k", "awap_image", 600, logger.NewNop())
	err := c.OpenCourselab(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransport))
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "bot.py")
	require.NoError(t, os.WriteFile(local, []byte("print('hi')"), 0o644))

	var gotBody []byte
	var gotHeader, gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("filename")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"statusMsg":"Uploaded"}`))
	}))

	h, err := c.UploadFile(context.Background(), local, "17-team1.py", "team1.py")
	require.NoError(t, err)

	assert.Equal(t, "/upload/testkey/awap/", gotPath)
	assert.Equal(t, "17-team1.py", gotHeader)
	assert.Equal(t, "print('hi')", string(gotBody))
	assert.Equal(t, FileHandle{LocalFile: "17-team1.py", DestFile: "team1.py"}, h)
}

func TestUploadFileMissingLocal(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.UploadFile(context.Background(), "/does/not/exist", "a", "b")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIO))
}

func TestAddJob(t *testing.T) {
	var got map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"statusMsg":"Job added","jobId":4}`))
	}))

	files := []FileHandle{
		{LocalFile: "autograde-Makefile", DestFile: "Makefile"},
		{LocalFile: "17-team1.py", DestFile: "team1.py"},
	}
	ack, err := c.AddJob(context.Background(), "17", files, "output-17.json", "http://arena:8000/single_match_callback/17")
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusMsg":"Job added","jobId":4}`, string(ack))

	assert.Equal(t, "awap_image", got["image"])
	assert.Equal(t, "17", got["jobName"])
	assert.Equal(t, "output-17.json", got["output_file"])
	assert.Equal(t, "http://arena:8000/single_match_callback/17", got["callback_url"])
	assert.Equal(t, float64(600), got["timeout"])
	assert.Len(t, got["files"], 2)
}

func TestAddJobBadStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such image", http.StatusBadRequest)
	}))

	_, err := c.AddJob(context.Background(), "1", nil, "out.json", "http://cb")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProtocol))
}
