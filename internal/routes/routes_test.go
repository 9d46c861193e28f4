package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/handlers"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/services"
)

type echoResponder struct{}

func (echoResponder) Respond(ctx context.Context, req services.ChatRequest) (string, error) {
	return "echo: " + req.Message, nil
}

// wsEvent mirrors realtime.Event with a raw payload.
type wsEvent struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// serve starts the full app on a loopback port and returns its address.
func serve(t *testing.T) string {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	database.DB = db

	middleware.SetSecret("routes-test-secret")
	handlers.Init(handlers.Deps{Hub: realtime.NewHub(), Responder: echoResponder{}, UploadsDir: t.TempDir()})

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler, DisableStartupMessage: true})
	Setup(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return ln.Addr().String()
}

func postJSON(t *testing.T, url, token string, body interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestThreadSocketStreamsMessages(t *testing.T) {
	addr := serve(t)
	base := "http://" + addr

	var auth models.AuthResponse
	require.Equal(t, fiber.StatusCreated, postJSON(t, base+"/api/auth/register", "", fiber.Map{
		"email": "ws@example.com", "password": "hunter22",
	}, &auth))

	var thread models.ChatThread
	require.Equal(t, fiber.StatusCreated, postJSON(t, base+"/api/threads", auth.Token, fiber.Map{}, &thread))

	// One message before connecting ends up in the history frame.
	require.Equal(t, fiber.StatusCreated, postJSON(t, base+"/api/threads/"+thread.ID.String()+"/messages", auth.Token, fiber.Map{"content": "first"}, nil))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/threads/"+thread.ID.String()+"?token="+auth.Token, nil)
	require.NoError(t, err)
	defer conn.Close()

	history := readEvent(t, conn)
	assert.Equal(t, "history", history.Type)
	var past []models.ChatMessage
	require.NoError(t, json.Unmarshal(history.Data, &past))
	require.Len(t, past, 2)
	assert.Equal(t, "echo: first", past[1].Content)

	require.Equal(t, fiber.StatusCreated, postJSON(t, base+"/api/threads/"+thread.ID.String()+"/messages", auth.Token, fiber.Map{"content": "second"}, nil))

	userEv := readEvent(t, conn)
	aiEv := readEvent(t, conn)
	assert.Equal(t, realtime.EventMessageInserted, userEv.Type)
	var userMsg, aiMsg models.ChatMessage
	require.NoError(t, json.Unmarshal(userEv.Data, &userMsg))
	require.NoError(t, json.Unmarshal(aiEv.Data, &aiMsg))
	assert.Equal(t, "second", userMsg.Content)
	assert.Equal(t, "echo: second", aiMsg.Content)
	assert.Equal(t, models.SenderAI, aiMsg.Sender)
}

func TestSocketRequiresToken(t *testing.T) {
	addr := serve(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/threads/"+uuid.NewString(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGoalSocketReceivesGoalEvents(t *testing.T) {
	addr := serve(t)
	base := "http://" + addr

	var auth models.AuthResponse
	require.Equal(t, fiber.StatusCreated, postJSON(t, base+"/api/auth/register", "", fiber.Map{
		"email": "goals@example.com", "password": "hunter22",
	}, &auth))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+auth.Token)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/goals", header)
	require.NoError(t, err)
	defer conn.Close()

	// Wait until the socket has subscribed before publishing.
	topic := realtime.UserTopic(auth.User.ID)
	require.Eventually(t, func() bool { return handlers.Hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	goalID := uuid.New()
	handlers.Hub.Publish(topic, realtime.Event{Type: realtime.EventGoalImageReady, ID: goalID.String()})

	ev := readEvent(t, conn)
	assert.Equal(t, realtime.EventGoalImageReady, ev.Type)
	assert.Equal(t, goalID.String(), ev.ID)
	assert.Equal(t, topic, ev.Topic)
}
