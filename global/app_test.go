package global

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"PBoard/global/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.AppConfig {
	cfg := config.Defaults()
	cfg.Server.GinMode = "test"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "board.db")
	return cfg
}

func TestBuildServesHealthAndSocket(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Presence)
	assert.Empty(t, a.sources)

	srv := httptest.NewServer(a.Engine)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinProject","projectId":1}`)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"kind":"error"`)
	ws.Close()
}

func TestBuildFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOrigin(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.NodeID = 12
	assert.Equal(t, "node-12", Origin(cfg))
}

func TestTokenOptions(t *testing.T) {
	cfg := config.Defaults()
	opts := TokenOptions(cfg)
	assert.Equal(t, []byte(cfg.Auth.JWTSecret), opts.Secret)
	assert.Equal(t, cfg.Auth.TokenTTL, opts.TTL)
}
