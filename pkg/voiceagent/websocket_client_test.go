package voiceagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackAgent is a minimal agent: it answers init with init_done, echoes
// manual_text as a message frame and speaks three audio frames on
// create_response.
type loopbackAgent struct {
	t        *testing.T
	upgrader websocket.Upgrader
	// closeWith, if set, makes the agent close the socket right after init.
	closeWith int

	mu          sync.Mutex
	token       string
	userAgent   string
	controls    []map[string]any
	audioChunks int
	closeCode   int
}

func newLoopbackServer(t *testing.T, agent *loopbackAgent) *httptest.Server {
	t.Helper()
	agent.t = t
	server := httptest.NewServer(agent)
	t.Cleanup(server.Close)
	return server
}

func (a *loopbackAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.token = r.URL.Query().Get("token")
	a.userAgent = r.Header.Get("User-Agent")
	a.mu.Unlock()

	if r.URL.Query().Get("token") != "tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				a.mu.Lock()
				a.closeCode = ce.Code
				a.mu.Unlock()
			}
			return
		}

		if kind == websocket.BinaryMessage {
			a.mu.Lock()
			a.audioChunks++
			a.mu.Unlock()
			continue
		}

		var msg map[string]any
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		a.mu.Lock()
		a.controls = append(a.controls, msg)
		a.mu.Unlock()

		switch msg["type"] {
		case ControlInit:
			a.writeFrame(conn, Metadata{"type": MessageTypeInitDone}, nil)
			if a.closeWith != 0 {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(a.closeWith, ""), time.Now().Add(time.Second))
				return
			}
		case ControlManualText:
			a.writeFrame(conn, Metadata{"type": MessageTypeMessage, "content": msg["content"], "role": "assistant"}, nil)
		case ControlCreateResponse:
			for i := 0; i < 3; i++ {
				a.writeFrame(conn, Metadata{"type": MessageTypeAudio, "speech_id": "sp-1"}, []byte{byte(i), byte(i)})
			}
		}
	}
}

func (a *loopbackAgent) writeFrame(conn *websocket.Conn, md Metadata, payload []byte) {
	frame, err := EncodeFrame(md, payload)
	if err != nil {
		a.t.Logf("encode frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		a.t.Logf("write frame: %v", err)
	}
}

func (a *loopbackAgent) snapshot() (controls []map[string]any, audioChunks, closeCode int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.controls...), a.audioChunks, a.closeCode
}

func configFor(t *testing.T, server *httptest.Server, token string) *ClientConfig {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	config := NewClientConfig()
	config.Host = u.Hostname()
	config.Port = port
	config.Secure = false
	config.Token = token
	config.ConnectTimeout = 2 * time.Second
	return config
}

func TestWebSocket_Session(t *testing.T) {
	agent := &loopbackAgent{}
	server := newLoopbackServer(t, agent)

	sinks := &sinkRecorder{auto: true}
	client := NewClient(configFor(t, server, "tok"), WithSinkFactory(sinks.factory), WithLogger(NopLogger()))
	rec := &recorder{}
	rec.attach(client)

	var mu sync.Mutex
	var texts []string
	client.AddMessageHandler(CreateTextHandler(func(_, text string) {
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
	}))

	require.NoError(t, client.Connect(context.Background(), "loopback"))
	require.Eventually(t, func() bool { return client.State() == Ready }, waitTimeout, 10*time.Millisecond)
	assert.True(t, client.IsConnected())

	require.NoError(t, client.SendTextMessage("ping"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1
	}, waitTimeout, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"ping"}, texts)
	mu.Unlock()

	for i := 0; i < 4; i++ {
		require.NoError(t, client.SendAudioChunk(make([]byte, 320)))
	}
	require.Eventually(t, func() bool {
		_, n, _ := agent.snapshot()
		return n == 4
	}, waitTimeout, 10*time.Millisecond)

	require.NoError(t, client.CreateResponse())
	require.Eventually(t, func() bool { return len(sinks.allChunks()) == 3 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{"\x00\x00", "\x01\x01", "\x02\x02"}, sinks.allChunks())

	client.Disconnect()
	assert.False(t, client.IsConnected())
	assert.Equal(t, "Normal closure", client.CloseReason())
	require.Eventually(t, func() bool {
		_, _, code := agent.snapshot()
		return code == CloseNormalClosure
	}, waitTimeout, 10*time.Millisecond)

	controls, _, _ := agent.snapshot()
	var types []any
	for _, c := range controls {
		types = append(types, c["type"])
	}
	assert.Equal(t, []any{"init", "manual_text", "create_response"}, types)
	assert.Equal(t, "loopback", controls[0]["agent_name"])

	agent.mu.Lock()
	assert.Equal(t, "VoiceAgentSDK-Go/1.0", agent.userAgent)
	agent.mu.Unlock()

	assert.Equal(t, []ConnectionState{Connecting, Connected, Activating, Ready, Disconnected}, rec.stateList())
	assert.Empty(t, rec.errorList())
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	agent := &loopbackAgent{}
	server := newLoopbackServer(t, agent)

	client := NewClient(configFor(t, server, "wrong"), WithLogger(NopLogger()))
	rec := &recorder{}
	rec.attach(client)

	err := client.Connect(context.Background(), "loopback")
	require.ErrorIs(t, err, ErrConnectionError)

	require.Eventually(t, func() bool { return client.State() == Disconnected }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, "Abnormal closure - connection dropped", client.CloseReason())
	assert.False(t, client.IsConnected())
}

func TestWebSocket_ServerClose(t *testing.T) {
	agent := &loopbackAgent{closeWith: websocket.CloseInternalServerErr}
	server := newLoopbackServer(t, agent)

	client := NewClient(configFor(t, server, "tok"), WithLogger(NopLogger()))

	require.NoError(t, client.Connect(context.Background(), "loopback"))
	require.Eventually(t, func() bool {
		return client.State() == Disconnected
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, "Internal server error", client.CloseReason())
	require.ErrorIs(t, client.SendAudioChunk([]byte{0}), ErrSendWhileDisconnected)
}

func TestWebSocket_SendBeforeOpenFails(t *testing.T) {
	transport := NewWebSocketTransport(nil)
	ch, err := transport.Open(context.Background(), "ws://127.0.0.1:1/ws", nil, func(ChannelEvent) {})
	require.NoError(t, err)

	assert.False(t, ch.IsOpen())
	assert.Error(t, ch.Send(TextMessage, []byte("{}")))
	assert.NoError(t, ch.Close(CloseNormalClosure, "Normal closure"))
	assert.NoError(t, ch.Close(CloseNormalClosure, "Normal closure"))
}
