package moltbook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FeedSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/feed", r.URL.Path)
		assert.Equal(t, "new", r.URL.Query().Get("sort"))
		assert.Equal(t, "15", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"posts":[{"id":"p1","title":"hello","author":"crab"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	posts, err := c.Feed(context.Background(), "new", 15)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Feed(context.Background(), "new", 10)

	var te *TransportError
	require.True(t, errors.As(err, &te))
}

func TestClient_BadRequestIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"submolt required"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.CreatePost(context.Background(), "", "t", "c")

	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "submolt required", ae.Message)

	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestClient_RetriesOnceAfter429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"has_activity":true,"pending_requests":2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	activity, err := c.DMCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, activity.HasActivity)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_CreateCommentBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts/p1/comments", r.URL.Path)
		w.Write([]byte(`{"id":"cm9","post_id":"p1","content":"nice"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	cm, err := c.CreateComment(context.Background(), "p1", "parent7", "nice")
	require.NoError(t, err)
	assert.Equal(t, "cm9", cm.ID)
}

func TestClient_RegisterInstallsNothingImplicitly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "register runs unauthenticated")
		w.Write([]byte(`{"api_key":"mb-xyz","agent":{"name":"moltagent"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	res, err := c.Register(context.Background(), "moltagent", "a curious crab")
	require.NoError(t, err)
	assert.Equal(t, "mb-xyz", res.APIKey)
}
