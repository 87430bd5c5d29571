package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(b))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL,
		QueryParams: map[string][]string{"k": {"v"}},
		Body:        map[string]int{"a": 1},
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "nope", se.Body)
	assert.False(t, se.Temporary())
	assert.True(t, (&StatusError{Code: 503}).Temporary())
}

func TestClientDefaultHeadersAndRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pattern-engine", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	var out []byte
	c := NewClient(WithHeader("User-Agent", "pattern-engine"))
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodPost, URL: srv.URL, Body: []byte("ping")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(out))
}
