package agentrun

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeRuntime is an in-memory agent runtime good enough for the client.
type fakeRuntime struct {
	mu       sync.Mutex
	sessions map[string]bool
	calls    []string
	runBody  runRequest
	auth     string
	events   string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{sessions: map[string]bool{}}
}

func (f *fakeRuntime) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/apps/{app}/users/{user}/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" session")
		f.auth = r.Header.Get("Authorization")
		require.Equal(t, "papers-rag-agent", r.PathValue("app"))
		key := r.PathValue("user") + "/" + r.PathValue("id")
		switch r.Method {
		case http.MethodGet:
			if !f.sessions[key] {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"detail":"Session not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `"}`))
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{"state":{}}`, string(body))
			f.sessions[key] = true
			_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `"}`))
		case http.MethodDelete:
			if !f.sessions[key] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.sessions, key)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("POST /run_sse", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "POST run")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.runBody))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(f.events))
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(&http.Client{Timeout: 2 * time.Second})}, opts...)
	c, err := NewClient(srv.URL, "papers-rag-agent", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient("", "app")
	require.ErrorContains(t, err, "base url")

	_, err = NewClient("not a url", "app")
	require.ErrorContains(t, err, "invalid base url")

	_, err = NewClient("https://agent.run.app", " ")
	require.ErrorContains(t, err, "app name")

	c, err := NewClient("https://agent.run.app/", "app")
	require.NoError(t, err)
	require.Equal(t, "https://agent.run.app", c.baseURL)
	require.Equal(t, defaultRunTimeout, c.runTimeout)
}

func TestSessionURL_EscapesSegments(t *testing.T) {
	c, err := NewClient("https://agent.run.app", "papers-rag-agent")
	require.NoError(t, err)
	require.Equal(t,
		"https://agent.run.app/apps/papers-rag-agent/users/a@x.com/sessions/s%2F1",
		c.sessionURL("a@x.com", "s/1"))
}

func TestSend_CreatesMissingSessionThenRuns(t *testing.T) {
	rt := newFakeRuntime()
	rt.events = "data: {\"author\":\"agent\",\"content\":{\"parts\":[{\"text\":\"thinking\"}]}}\n\n" +
		"data: {\"author\":\"agent\",\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"hello\"}]}}\n\n"
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, WithTokenSource(StaticTokenSource("tok-1")))
	events, err := c.Send(context.Background(), "a@x.com", "sess-1", "hi there")
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, []string{"GET session", "POST session", "POST run"}, rt.calls)
	require.Equal(t, "Bearer tok-1", rt.auth)
	require.Equal(t, runRequest{
		AppName:    "papers-rag-agent",
		UserID:     "a@x.com",
		SessionID:  "sess-1",
		NewMessage: content{Role: "user", Parts: []part{{Text: "hi there"}}},
	}, rt.runBody)

	reply := ExtractReply(events)
	require.Equal(t, ReplyText, reply.Kind)
	require.Equal(t, "hello", reply.Text)
}

func TestSend_ReusesExistingSession(t *testing.T) {
	rt := newFakeRuntime()
	rt.sessions["a@x.com/sess-1"] = true
	rt.events = "data: {\"content\":{\"parts\":[{\"text\":\"again\"}]}}\n"
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Send(context.Background(), "a@x.com", "sess-1", "hi")
	require.NoError(t, err)
	require.Equal(t, []string{"GET session", "POST run"}, rt.calls)
	require.Empty(t, rt.auth)
}

func TestRun_SkipsNonDataAndUndecodableLines(t *testing.T) {
	rt := newFakeRuntime()
	rt.events = ": keep-alive\r\n" +
		"event: message\r\n" +
		"data: {not json}\r\n" +
		"data: {\"content\":{\"parts\":[{\"text\":\"ok\"}]}}\r\n"
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	events, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.JSONEq(t, `{"content":{"parts":[{"text":"ok"}]}}`, string(events[0]))
}

func TestRun_OversizedBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {\"content\":{\"parts\":[{\"text\":\"first\"}]}}\n\n"))
		_, _ = w.Write([]byte(strings.Repeat(": keep-alive\n", 200)))
		_, _ = w.Write([]byte("data: {\"content\":{\"parts\":[{\"text\":\"LAST\"}]}}\n\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.runBodyLimit = 1024
	events, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.ErrorIs(t, err, ErrResponseTooLarge)
	require.Nil(t, events)
}

func TestRun_BodyExactlyAtLimit(t *testing.T) {
	body := "data: {\"content\":{\"parts\":[{\"text\":\"ok\"}]}}\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.runBodyLimit = int64(len(body))
	events, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.NoError(t, err)
	require.Equal(t, "ok", ExtractReply(events).Text)
}

func TestRun_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`forbidden`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.ErrorContains(t, err, "unexpected status 403")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
}

func TestSend_SessionLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Send(context.Background(), "a@x.com", "s", "hi")
	require.ErrorContains(t, err, "get session")
	require.ErrorContains(t, err, "401")
}

func TestRun_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("data: {}\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithTimeouts(0, 50*time.Millisecond))
	_, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.Error(t, err)
}

func TestRun_NetworkError(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "papers-rag-agent", WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)
	_, err = c.Run(context.Background(), "a@x.com", "s", "hi")
	require.ErrorContains(t, err, "agentrun: run")
}

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) { return nil, errors.New("metadata server unreachable") }

func TestDo_TokenSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent without a token")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithTokenSource(failingTokens{}))
	_, err := c.Run(context.Background(), "a@x.com", "s", "hi")
	require.ErrorContains(t, err, "metadata server unreachable")
}

func TestDeleteSession(t *testing.T) {
	rt := newFakeRuntime()
	rt.sessions["a@x.com/sess-1"] = true
	srv := httptest.NewServer(rt.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.DeleteSession(context.Background(), "a@x.com", "sess-1"))
	require.False(t, rt.sessions["a@x.com/sess-1"])

	err := c.DeleteSession(context.Background(), "a@x.com", "sess-1")
	require.ErrorContains(t, err, "delete session")
	require.ErrorContains(t, err, "404")
}
