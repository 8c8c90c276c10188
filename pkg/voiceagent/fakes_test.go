package voiceagent

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	SetGlobalLogger(NopLogger())
	os.Exit(m.Run())
}

const waitTimeout = 2 * time.Second

// fakeTransport hands out fakeChannels the test drives by hand.
type fakeTransport struct {
	openErr error
	opened  chan *fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeChannel, 16)}
}

func (t *fakeTransport) Open(ctx context.Context, url string, header http.Header, emit EmitFunc) (Channel, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := &fakeChannel{url: url, header: header, emit: emit, sent: make(chan sentMessage, 64)}
	t.opened <- ch
	return ch, nil
}

func (t *fakeTransport) next(tb testing.TB) *fakeChannel {
	tb.Helper()
	select {
	case ch := <-t.opened:
		return ch
	case <-time.After(waitTimeout):
		tb.Fatal("transport was not opened")
		return nil
	}
}

type sentMessage struct {
	kind MessageKind
	data []byte
}

type fakeChannel struct {
	url    string
	header http.Header
	emit   EmitFunc
	sent   chan sentMessage

	mu          sync.Mutex
	open        bool
	closed      bool
	closeCode   int
	closeReason string
	sendErr     error
}

func (c *fakeChannel) Send(kind MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("not open")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- sentMessage{kind: kind, data: append([]byte(nil), data...)}
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	c.closeCode = code
	c.closeReason = reason
	c.mu.Unlock()

	c.emit(ChannelEvent{Kind: EventClose, Code: code, Reason: reason})
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.emit(ChannelEvent{Kind: EventOpen})
}

func (c *fakeChannel) Deliver(tb testing.TB, metadata Metadata, payload []byte) {
	tb.Helper()
	frame, err := EncodeFrame(metadata, payload)
	require.NoError(tb, err)
	c.emit(ChannelEvent{Kind: EventMessage, Data: frame})
}

func (c *fakeChannel) DeliverRaw(data []byte) {
	c.emit(ChannelEvent{Kind: EventMessage, Data: data})
}

func (c *fakeChannel) Fail(err error) {
	c.emit(ChannelEvent{Kind: EventError, Err: err})
}

func (c *fakeChannel) RemoteClose(code int) {
	c.mu.Lock()
	c.open = false
	c.closed = true
	c.mu.Unlock()
	c.emit(ChannelEvent{Kind: EventClose, Code: code})
}

func (c *fakeChannel) closedWith() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// nextSent returns the next sent message.
func (c *fakeChannel) nextSent(tb testing.TB) sentMessage {
	tb.Helper()
	select {
	case m := <-c.sent:
		return m
	case <-time.After(waitTimeout):
		tb.Fatal("nothing was sent")
		return sentMessage{}
	}
}

// nextControl returns the next sent message decoded as a JSON object.
func (c *fakeChannel) nextControl(tb testing.TB) map[string]any {
	tb.Helper()
	m := c.nextSent(tb)
	require.Equal(tb, TextMessage, m.kind)
	var out map[string]any
	require.NoError(tb, sonic.Unmarshal(m.data, &out))
	return out
}

func (c *fakeChannel) assertNothingSent(tb testing.TB) {
	tb.Helper()
	select {
	case m := <-c.sent:
		tb.Fatalf("unexpected message sent: %s", m.data)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeSink records appends. With auto set, an append completes on its own.
type fakeSink struct {
	auto bool

	mu          sync.Mutex
	openErr     error
	attachErr   error
	appendErr   error
	playErr     error
	onUpdateEnd func()
	opened      bool
	updating    bool
	overlapped  bool
	appended    [][]byte
	playCalls   int
	pauseCalls  int
	eosCalls    int
}

func (s *fakeSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	return nil
}

func (s *fakeSink) AttachBuffer(onUpdateEnd func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	s.onUpdateEnd = onUpdateEnd
	return nil
}

func (s *fakeSink) Append(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updating {
		s.overlapped = true
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, append([]byte(nil), chunk...))
	s.updating = true
	if s.auto {
		go s.complete()
	}
	return nil
}

// complete finishes the in-flight append.
func (s *fakeSink) complete() {
	s.mu.Lock()
	s.updating = false
	cb := s.onUpdateEnd
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *fakeSink) Updating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updating
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playCalls++
	return s.playErr
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls++
}

func (s *fakeSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *fakeSink) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eosCalls++
	s.opened = false
	return nil
}

func (s *fakeSink) chunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.appended))
	for i, c := range s.appended {
		out[i] = string(c)
	}
	return out
}

// sinkRecorder is a SinkFactory that keeps every sink it built.
type sinkRecorder struct {
	auto bool
	// prepare, if set, configures each new sink before it is returned.
	prepare func(*fakeSink)

	mu    sync.Mutex
	sinks []*fakeSink
}

func (r *sinkRecorder) factory() (AudioSink, error) {
	s := &fakeSink{auto: r.auto}
	if r.prepare != nil {
		r.prepare(s)
	}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
	return s, nil
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

func (r *sinkRecorder) sink(i int) *fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[i]
}

// allChunks returns the chunks appended across every sink, in order.
func (r *sinkRecorder) allChunks() []string {
	r.mu.Lock()
	sinks := append([]*fakeSink(nil), r.sinks...)
	r.mu.Unlock()
	var out []string
	for _, s := range sinks {
		out = append(out, s.chunks()...)
	}
	return out
}

// recorder collects handler notifications.
type recorder struct {
	mu       sync.Mutex
	states   []ConnectionState
	errs     []*AgentError
	messages []Metadata
}

func (r *recorder) attach(c *Client) {
	c.AddStatusHandler(func(s ConnectionState) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
	})
	c.AddErrorHandler(func(err *AgentError) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	c.AddMessageHandler(func(md Metadata, payload []byte) {
		r.mu.Lock()
		r.messages = append(r.messages, md)
		r.mu.Unlock()
	})
}

func (r *recorder) stateList() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *recorder) errorList() []*AgentError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*AgentError(nil), r.errs...)
}

func (r *recorder) messageList() []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Metadata(nil), r.messages...)
}

func (r *recorder) errorCodes() []string {
	var codes []string
	for _, e := range r.errorList() {
		codes = append(codes, e.Code)
	}
	return codes
}

type testHarness struct {
	client    *Client
	transport *fakeTransport
	clock     *clockwork.FakeClock
	sinks     *sinkRecorder
	rec       *recorder
}

func newHarness(t *testing.T, opts ...ClientOption) *testHarness {
	t.Helper()
	h := &testHarness{
		transport: newFakeTransport(),
		clock:     clockwork.NewFakeClock(),
		sinks:     &sinkRecorder{auto: true},
		rec:       &recorder{},
	}

	config := NewClientConfig()
	config.Token = "test-token"

	all := []ClientOption{
		WithTransport(h.transport),
		WithClock(h.clock),
		WithLogger(NopLogger()),
		WithSinkFactory(h.sinks.factory),
	}
	h.client = NewClient(config, append(all, opts...)...)
	h.rec.attach(h.client)
	t.Cleanup(h.client.Disconnect)
	return h
}

// connect runs Connect, opens the channel and consumes the init message.
func (h *testHarness) connect(t *testing.T, opts ...ConnectOption) *fakeChannel {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background(), "agent-1", opts...) }()

	ch := h.transport.next(t)
	ch.Open()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
	}

	initMsg := ch.nextControl(t)
	require.Equal(t, "init", initMsg["type"])
	return ch
}

// ready connects and completes activation.
func (h *testHarness) ready(t *testing.T, opts ...ConnectOption) *fakeChannel {
	t.Helper()
	ch := h.connect(t, opts...)
	ch.Deliver(t, Metadata{"type": "init_done"}, nil)
	require.Eventually(t, func() bool { return h.client.State() == Ready }, waitTimeout, 5*time.Millisecond)
	return ch
}
