package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/models"
)

func dialStatus(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sessions/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readStatus(t *testing.T, conn *websocket.Conn) models.SessionView {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, MsgTypeStatus, msg.Type)
	var view models.SessionView
	require.NoError(t, json.Unmarshal(msg.Payload, &view))
	return view
}

func TestWebSocket_StreamsSessionChanges(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	view := env.createSession(t)
	conn := dialStatus(t, srv, view.ID)

	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeConnected, msg.Type)
	assert.Equal(t, view.ID, msg.ID)

	initial := readStatus(t, conn)
	assert.Equal(t, models.PhaseUpload, initial.Phase)
	assert.True(t, initial.Sections[models.PhaseUpload])

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "doc.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// CreateFormFile labels parts as octet-stream, so the name decides
	resp, err := http.Post(srv.URL+"/api/sessions/"+view.ID+"/file", w.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	preview := readStatus(t, conn)
	assert.Equal(t, models.PhasePreview, preview.Phase)
	assert.False(t, preview.Sections[models.PhaseUpload])
	require.NotNil(t, preview.File)
	assert.Equal(t, "doc.pdf", preview.File.Name)
	assert.Equal(t, "13 Bytes", preview.FileSize)
}

func TestWebSocket_PingAndClose(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	view := env.createSession(t)
	conn := dialStatus(t, srv, view.ID)
	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)
	readStatus(t, conn)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readMessage(t, conn).Type)

	require.NoError(t, env.sessions.Delete(view.ID))
	assert.Equal(t, MsgTypeClosed, readMessage(t, conn).Type)
}

func TestWebSocket_UnknownMessageGetsErrorFrame(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	view := env.createSession(t)
	conn := dialStatus(t, srv, view.ID)
	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)
	readStatus(t, conn)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe"}))
	msg := readMessage(t, conn)
	require.Equal(t, MsgTypeError, msg.Type)
	assert.Equal(t, view.ID, msg.ID)

	var body WSErrorResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, "UNKNOWN_MESSAGE", body.Code)
	assert.Contains(t, body.Message, "subscribe")

	// the connection stays usable
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readMessage(t, conn).Type)
}

func TestWebSocket_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
