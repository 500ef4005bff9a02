package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"PBoard/module/board/events"
	"PBoard/module/board/store"
	"PBoard/service/broadcast"
	tokens "PBoard/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	hub    *broadcast.Hub
	store  *store.SQLStore
	opts   tokens.Options
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := tokens.DefaultOptions([]byte("api-secret"))
	hub := broadcast.NewHub(tokens.NewVerifier(opts), st, broadcast.Options{})
	h := New(Deps{
		Store:    st,
		Events:   events.NewAdapter(hub, hub, nil),
		Presence: hub,
		Tokens:   opts,
	})

	r := gin.New()
	h.Register(r)
	return &testServer{t: t, engine: r, hub: hub, store: st, opts: opts}
}

func (s *testServer) do(method, path, token string, body any) (int, map[string]any, []byte) {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var obj map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &obj)
	return w.Code, obj, w.Body.Bytes()
}

// signup registers and logs in, returning the token and user id.
func (s *testServer) signup(name string) (string, int64) {
	s.t.Helper()
	code, _, _ := s.do(http.MethodPost, "/api/register", "", map[string]string{"username": name, "password": "pw-" + name})
	require.Equal(s.t, http.StatusOK, code)
	code, body, _ := s.do(http.MethodPost, "/api/login", "", map[string]string{"username": name, "password": "pw-" + name})
	require.Equal(s.t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	return body["token"].(string), int64(user["id"].(float64))
}

func (s *testServer) createProject(token, name string) int64 {
	s.t.Helper()
	code, body, _ := s.do(http.MethodPost, "/api/projects", token, map[string]string{"name": name})
	require.Equal(s.t, http.StatusOK, code)
	return int64(body["id"].(float64))
}

// listen connects a queue-only connection bound as the token's user.
func (s *testServer) listen(token string, projects ...int64) *broadcast.WsConn {
	s.t.Helper()
	w := s.hub.OnConnect(nil)
	_, err := s.hub.Identify(w.SnowID, token)
	require.NoError(s.t, err)
	for _, p := range projects {
		require.NoError(s.t, s.hub.JoinProject(context.Background(), w.SnowID, p))
	}
	return w
}

func eventKinds(t *testing.T, w *broadcast.WsConn) []string {
	t.Helper()
	var out []string
	for {
		select {
		case raw := <-w.Outbox():
			var ev struct {
				Kind string `json:"kind"`
			}
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev.Kind)
		default:
			return out
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.signup("alice")

	code, body, _ := s.do(http.MethodPost, "/api/register", "", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "User exists", body["error"])

	code, _, _ = s.do(http.MethodPost, "/api/register", "", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body, _ = s.do(http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["error"])

	code, _, _ = s.do(http.MethodPost, "/api/login", "", map[string]string{"username": "ghost", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProjectRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	code, _, _ := s.do(http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _, _ = s.do(http.MethodGet, "/api/projects", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestProjectFlowPublishesEvents(t *testing.T) {
	s := newTestServer(t)
	aliceTok, _ := s.signup("alice")

	owner := s.listen(aliceTok)
	pid := s.createProject(aliceTok, "launch")
	assert.Equal(t, []string{events.KindProjectCreated}, eventKinds(t, owner))

	watcher := s.listen(aliceTok, pid)

	code, task, _ := s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks", pid), aliceTok, map[string]string{"title": "write docs"})
	require.Equal(t, http.StatusOK, code)
	taskID := int64(task["id"].(float64))
	assert.Equal(t, "todo", task["status"])

	code, _, _ = s.do(http.MethodPut, fmt.Sprintf("/api/tasks/%d", taskID), aliceTok, map[string]string{"status": "inprogress"})
	require.Equal(t, http.StatusOK, code)

	code, _, _ = s.do(http.MethodPut, fmt.Sprintf("/api/tasks/%d", taskID), aliceTok, map[string]string{"status": "later"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, comment, _ := s.do(http.MethodPost, fmt.Sprintf("/api/tasks/%d/comments", taskID), aliceTok, map[string]string{"body": "on it"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", comment["author"])

	code, _, _ = s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/messages", pid), aliceTok, map[string]string{"body": "hi all"})
	require.Equal(t, http.StatusOK, code)

	code, done, _ := s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/finish", pid), aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, done["finished"])

	assert.Equal(t, []string{
		events.KindTaskCreated,
		events.KindTaskUpdated,
		events.KindCommentCreated,
		events.KindMessageCreated,
		events.KindProjectFinished,
	}, eventKinds(t, watcher))

	code, detail, _ := s.do(http.MethodGet, fmt.Sprintf("/api/projects/%d", pid), aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	grouped := detail["tasks"].(map[string]any)
	assert.Len(t, grouped["inprogress"], 1)
	assert.Len(t, grouped["todo"], 0)
}

func TestFailedWritePublishesNothing(t *testing.T) {
	s := newTestServer(t)
	aliceTok, _ := s.signup("alice")
	pid := s.createProject(aliceTok, "launch")
	watcher := s.listen(aliceTok, pid)

	code, _, _ := s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks", pid), aliceTok, map[string]string{"title": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = s.do(http.MethodPut, "/api/tasks/999", aliceTok, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusNotFound, code)

	assert.Empty(t, eventKinds(t, watcher))
}

func TestNonCollaboratorIsForbidden(t *testing.T) {
	s := newTestServer(t)
	aliceTok, _ := s.signup("alice")
	malloryTok, _ := s.signup("mallory")
	pid := s.createProject(aliceTok, "secret")

	code, _, _ := s.do(http.MethodGet, fmt.Sprintf("/api/projects/%d", pid), malloryTok, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _, _ = s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks", pid), malloryTok, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _, _ = s.do(http.MethodGet, "/api/projects/404", malloryTok, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _, _ = s.do(http.MethodGet, "/api/projects/abc", malloryTok, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	_, list, raw := s.do(http.MethodGet, "/api/projects", malloryTok, nil)
	assert.Nil(t, list)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestCollaboratorLifecycle(t *testing.T) {
	s := newTestServer(t)
	aliceTok, _ := s.signup("alice")
	bobTok, bobID := s.signup("bob")
	pid := s.createProject(aliceTok, "launch")

	watcher := s.listen(aliceTok, pid)
	bobConn := s.listen(bobTok)

	path := fmt.Sprintf("/api/projects/%d/collaborators", pid)
	code, _, _ := s.do(http.MethodPost, path, bobTok, map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusForbidden, code, "only the owner manages collaborators")

	code, coll, _ := s.do(http.MethodPost, path, aliceTok, map[string]string{"username": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "member", coll["role"])

	code, body, _ := s.do(http.MethodPost, path, aliceTok, map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Already collaborator", body["error"])

	code, _, _ = s.do(http.MethodPost, path, aliceTok, map[string]string{"username": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)

	assert.Equal(t, []string{events.KindCollaboratorAdded}, eventKinds(t, watcher))
	assert.Equal(t, []string{events.KindNotification}, eventKinds(t, bobConn))

	// bob can now join the project topic
	require.NoError(t, s.hub.JoinProject(context.Background(), bobConn.SnowID, pid))

	code, coll, _ = s.do(http.MethodPut, fmt.Sprintf("%s/%d", path, bobID), aliceTok, map[string]string{"role": "editor"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "editor", coll["role"])

	code, _, _ = s.do(http.MethodDelete, fmt.Sprintf("%s/%d", path, bobID), aliceTok, nil)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, []string{
		events.KindCollaboratorUpdated, events.KindNotification,
		events.KindCollaboratorRemoved, events.KindNotification,
	}, eventKinds(t, bobConn))

	code, _, _ = s.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/messages", pid), aliceTok, map[string]string{"body": "bye bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, eventKinds(t, bobConn), "removed collaborator no longer hears the project")

	_, _, raw := s.do(http.MethodGet, "/api/notifications", bobTok, nil)
	var notes []map[string]any
	require.NoError(t, json.Unmarshal(raw, &notes))
	require.Len(t, notes, 3)

	noteID := int64(notes[0]["id"].(float64))
	code, _, _ = s.do(http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", noteID), bobTok, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _, _ = s.do(http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", noteID), aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPresenceRoute(t *testing.T) {
	s := newTestServer(t)
	aliceTok, aliceID := s.signup("alice")
	pid := s.createProject(aliceTok, "launch")

	code, body, _ := s.do(http.MethodGet, fmt.Sprintf("/api/projects/%d/presence", pid), aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["online"])

	s.listen(aliceTok)
	_, body, _ = s.do(http.MethodGet, fmt.Sprintf("/api/projects/%d/presence", pid), aliceTok, nil)
	assert.Equal(t, []any{float64(aliceID)}, body["online"])
}
