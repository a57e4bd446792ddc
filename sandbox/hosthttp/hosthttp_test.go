package hosthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	isola "github.com/isola-run/isola-go"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPRequestStripsGuestSuppliedHostHeader(t *testing.T) {
	var sawHostHeader bool
	recorder := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		_, sawHostHeader = r.Header["Host"]
		return httptest.NewRecorder().Result(), nil
	})

	bridge := New(&http.Client{Transport: recorder})
	_, err := bridge.HTTPRequest(context.Background(), &isola.HTTPRequest{
		Method: http.MethodGet,
		URL:    "http://example.invalid/",
		Header: http.Header{"Host": []string{"evil.example"}},
	})
	require.NoError(t, err)
	assert.False(t, sawHostHeader)
}

func TestHTTPRequestReturnsUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	bridge := New(nil)
	resp, err := bridge.HTTPRequest(context.Background(), &isola.HTTPRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestStreamBodyChunksAndCloses(t *testing.T) {
	body := make([]byte, streamBodyChunkSize+10)
	for i := range body {
		body[i] = byte(i)
	}

	ch := StreamBody(context.Background(), body)

	var gotBytes int
	var chunkCount int
	for v := range ch {
		chunkCount++
		var chunk []byte
		require.NoError(t, v.ToStruct(&chunk))
		gotBytes += len(chunk)
	}
	assert.Equal(t, 2, chunkCount)
	assert.Equal(t, len(body), gotBytes)
}

func TestStreamBodyEmptyClosesImmediately(t *testing.T) {
	ch := StreamBody(context.Background(), nil)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestHTTPRequestRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, defaultMaxResponseBytes+1))
	}))
	defer srv.Close()

	bridge := New(nil)
	_, err := bridge.HTTPRequest(context.Background(), &isola.HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
	})
	assert.Error(t, err)
}
