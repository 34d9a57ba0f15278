package line

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"counsel-bot/internal/reliability"
)

func TestReplyURL(t *testing.T) {
	require.Equal(t, "https://api.line.me/v2/bot/message/reply", replyURL(""))
	require.Equal(t, "http://localhost:9000/v2/bot/message/reply", replyURL("http://localhost:9000/"))
}

func TestNewClient_EmptyToken(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func newReplyServer(t *testing.T, calls *int32, fn func(n int32, w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(atomic.AddInt32(calls, 1), w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient("channel-token",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithRetryPolicy(reliability.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	return c
}

func TestReply_HappyPath(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		require.Equal(t, "Bearer channel-token", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req replyRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "token-1", req.ReplyToken)
		require.Equal(t, []textMessage{{Type: "text", Text: "Hi there"}}, req.Messages)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Reply(context.Background(), "token-1", "Hi there"))
	require.Equal(t, int32(1), calls)
}

func TestReply_InvalidTokenIsNotRetried(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid reply token"}`))
	})

	err := c.Reply(context.Background(), "expired", "Hi")
	require.ErrorIs(t, err, ErrInvalidReplyToken)
	require.Equal(t, int32(1), calls)
}

func TestReply_EmptyTokenFailsWithoutCall(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {})
	err := c.Reply(context.Background(), " ", "Hi")
	require.ErrorIs(t, err, ErrInvalidReplyToken)
	require.Zero(t, calls)
}

func TestReply_OtherClientErrorsAreRejected(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Authentication failed"}`))
	})

	err := c.Reply(context.Background(), "token", "Hi")
	require.ErrorIs(t, err, ErrRejected)
	require.NotErrorIs(t, err, ErrInvalidReplyToken)
	require.Equal(t, int32(1), calls)
}

func TestReply_PlatformUnavailableIsRetried(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Reply(context.Background(), "token", "Hi"))
	require.Equal(t, int32(2), calls)
}

func TestReply_PlatformUnavailableExhaustsAttempts(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Reply(context.Background(), "token", "Hi")
	require.ErrorIs(t, err, ErrPlatformUnavailable)
	require.Contains(t, err.Error(), "2 attempt")
	require.Equal(t, int32(2), calls)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.HTTPStatusCode())
}

func TestReply_TimeoutIsPlatformUnavailable(t *testing.T) {
	var calls int32
	c := newReplyServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.callTimeout = 30 * time.Millisecond

	err := c.Reply(context.Background(), "token", "Hi")
	require.ErrorIs(t, err, ErrPlatformUnavailable)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMentionsReplyToken(t *testing.T) {
	require.True(t, mentionsReplyToken([]byte(`{"message":"Invalid reply token"}`)))
	require.False(t, mentionsReplyToken([]byte(`{"message":"The request body has 1 error(s)"}`)))
	require.False(t, mentionsReplyToken([]byte(`not-json`)))
}
