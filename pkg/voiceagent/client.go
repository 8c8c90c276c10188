package voiceagent

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// eventQueueSize bounds the per-attempt event queue. A full queue applies
// backpressure to the transport reader.
const eventQueueSize = 64

// Client is the voice agent session manager. It owns the channel, drives
// the connection state machine and routes inbound frames to message
// handlers and to the playback queue.
type Client struct {
	config    *ClientConfig
	transport Transport
	tokens    TokenSource
	clock     clockwork.Clock
	logger    *AgentLogger
	metrics   *Metrics
	newSink   SinkFactory

	statusHandlers  handlerList[StatusHandler]
	errorHandlers   handlerList[ErrorHandler]
	messageHandlers handlerList[MessageHandler]

	mu      sync.Mutex
	state   ConnectionState
	session *Session
	attempt *attempt
	channel Channel
	player  *PlaybackQueue
	tracker *SpeechTracker
	capture CaptureDevice
	gen     uint64
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(l *AgentLogger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithSinkFactory enables playback of inbound audio frames. Without it the
// client only forwards audio frames to message handlers.
func WithSinkFactory(f SinkFactory) ClientOption {
	return func(c *Client) { c.newSink = f }
}

func NewClient(config *ClientConfig, opts ...ClientOption) *Client {
	if config == nil {
		config = NewClientConfig()
	}

	c := &Client{
		config: config,
		clock:  clockwork.NewRealClock(),
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = GetGlobalLogger().WithComponent("client")
	}
	if c.transport == nil {
		c.transport = NewWebSocketTransport(config)
	}
	if c.tokens == nil {
		c.tokens = TokenSourceFromConfig(config)
	}

	return c
}

// ConnectOption adjusts the init message sent once the channel opens.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	agentConfig       any
	streamUserAudio   bool
	streamOutputAudio bool
	initGreeting      bool
}

// WithAgentConfig attaches an agent configuration; it is sent as a JSON
// string in the init message.
func WithAgentConfig(cfg any) ConnectOption {
	return func(o *connectOptions) { o.agentConfig = cfg }
}

func WithStreamUserAudio(enabled bool) ConnectOption {
	return func(o *connectOptions) { o.streamUserAudio = enabled }
}

func WithStreamOutputAudio(enabled bool) ConnectOption {
	return func(o *connectOptions) { o.streamOutputAudio = enabled }
}

func WithInitGreeting(enabled bool) ConnectOption {
	return func(o *connectOptions) { o.initGreeting = enabled }
}

// attempt is one connection attempt. Events are queued per attempt and
// handled by a single pump goroutine; events of a superseded attempt are
// dropped.
type attempt struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan ChannelEvent
	init    InitMessage
	result  chan error
	once    sync.Once
	opened  bool // guarded by Client.mu
	session *Session
}

func (a *attempt) emit(ev ChannelEvent) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

func (a *attempt) resolve(err error) {
	a.once.Do(func() {
		a.result <- err
	})
}

// Connect tears down any existing session, opens a new channel for agentID
// and returns once the channel is open. It fails with ErrConnectionTimeout
// if the channel has not opened within ClientConfig.ConnectTimeout; a late
// open still activates the session.
func (c *Client) Connect(ctx context.Context, agentID string, opts ...ConnectOption) error {
	timeout := c.config.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	if agentID == "" {
		return NewInvalidArgumentError("agentID is required")
	}

	c.mu.Lock()
	cleanup, states := c.detachLocked("Normal closure")
	c.mu.Unlock()
	cleanup()
	c.notifyStatus(states)

	co := connectOptions{streamUserAudio: true, streamOutputAudio: true, initGreeting: true}
	for _, opt := range opts {
		opt(&co)
	}

	initMsg, err := NewInitMessage(agentID, co.agentConfig, co.streamUserAudio, co.streamOutputAudio, co.initGreeting)
	if err != nil {
		return WrapError(err, "agent config cannot be serialized", ErrCodeInvalidArgument)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return NewTokenError("failed to get token", err)
	}

	attemptCtx, cancel := context.WithCancel(context.Background())

	// A concurrent Connect may have started a session while the token was
	// fetched.
	c.mu.Lock()
	cleanup, states = c.detachLocked("Normal closure")
	c.gen++
	a := &attempt{
		gen:    c.gen,
		ctx:    attemptCtx,
		cancel: cancel,
		events: make(chan ChannelEvent, eventQueueSize),
		init:   initMsg,
		result: make(chan error, 1),
	}
	a.session = &Session{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		StartedAt:  c.clock.Now(),
		generation: a.gen,
	}
	c.attempt = a
	c.session = a.session
	c.tracker = NewSpeechTracker(c.clock)
	c.player = nil
	if co.streamOutputAudio && c.newSink != nil {
		c.player = NewPlaybackQueue(c.newSink, c.reportError, c.metrics)
	}
	if c.setStateLocked(Connecting) {
		states = append(states, Connecting)
	}
	c.mu.Unlock()

	cleanup()
	c.notifyStatus(states)

	url := c.config.BuildURL(token)
	c.logger.LogConnectionEvent("connect", Connecting, map[string]interface{}{
		"agent_id":   agentID,
		"session_id": a.session.ID,
		"url":        redactURL(url),
	})

	ch, err := c.transport.Open(attemptCtx, url, c.header(), a.emit)
	if err != nil {
		aerr := NewConnectionError(err)
		c.reportError(aerr)
		c.abandon(a, CloseReason(CloseAbnormal))
		return aerr
	}

	c.mu.Lock()
	current := c.attempt == a
	if current {
		c.channel = ch
	}
	c.mu.Unlock()
	if !current {
		_ = ch.Close(CloseNormalClosure, "Normal closure")
		cancel()
		return NewChannelClosedError(CloseNormalClosure, "superseded by a newer connection")
	}

	go c.pump(a)

	select {
	case err := <-a.result:
		return err
	case <-timer.Chan():
		c.mu.Lock()
		opened := a.opened
		c.mu.Unlock()
		if opened {
			return nil
		}
		c.logger.WithField("session_id", a.session.ID).Warn("connection timed out")
		return NewConnectionTimeoutError(timeout)
	case <-ctx.Done():
		c.mu.Lock()
		opened := a.opened
		c.mu.Unlock()
		if !opened {
			c.abandon(a, "Connect canceled")
		}
		return ctx.Err()
	}
}

// Disconnect closes the channel with a normal closure. It is a no-op when
// there is no channel.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cleanup, states := c.detachLocked("Normal closure")
	c.mu.Unlock()

	cleanup()
	c.notifyStatus(states)
}

// IsConnected reports whether a channel exists and is open. Sends are only
// attempted when it is true.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	return ch != nil && ch.IsOpen()
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current (or last) session.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Client) SessionID() string {
	s, _ := c.Session()
	return s.ID
}

// CloseReason is the reason recorded when the last session closed.
func (c *Client) CloseReason() string {
	s, _ := c.Session()
	return s.CloseReason
}

// SpeechTracker returns the tracker of the current session.
func (c *Client) SpeechTracker() *SpeechTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

// Player returns the playback queue of the current session, or nil when
// output playback is disabled.
func (c *Client) Player() *PlaybackQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

func (c *Client) AddStatusHandler(handler StatusHandler) func() {
	return c.statusHandlers.add(handler)
}

func (c *Client) AddErrorHandler(handler ErrorHandler) func() {
	return c.errorHandlers.add(handler)
}

func (c *Client) AddMessageHandler(handler MessageHandler) func() {
	return c.messageHandlers.add(handler)
}

// Cleanup stops capture and closes the session.
func (c *Client) Cleanup() {
	if err := c.StopStreaming(); err != nil {
		c.logger.WithError(err).Warn("failed to stop audio capture")
	}
	c.Disconnect()
	c.logger.Debug("client cleaned up")
}

func (c *Client) header() http.Header {
	header := make(http.Header)
	header.Set("User-Agent", "VoiceAgentSDK-Go/1.0")
	for k, v := range c.config.Headers {
		header.Set(k, v)
	}
	return header
}

// pump handles the events of one attempt in arrival order.
func (c *Client) pump(a *attempt) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			c.handleEvent(a, ev)
			if ev.Kind == EventClose {
				a.cancel()
				return
			}
		}
	}
}

func (c *Client) handleEvent(a *attempt, ev ChannelEvent) {
	if !c.isCurrent(a) {
		return
	}

	switch ev.Kind {
	case EventOpen:
		c.handleOpen(a)
	case EventMessage:
		c.handleMessage(a, ev.Data)
	case EventError:
		c.handleChannelError(a, ev.Err)
	case EventClose:
		c.handleClose(a, ev.Code)
	}
}

func (c *Client) handleOpen(a *attempt) {
	c.mu.Lock()
	a.opened = true
	c.mu.Unlock()

	c.transition(a, Connected)
	a.resolve(nil)

	// The init failure is already reported; the server will not activate.
	_ = c.sendControl(a.init)

	c.transition(a, Activating)
}

func (c *Client) handleMessage(a *attempt, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		c.reportError(toAgentError(err, ErrCodeMalformedFrame))
		return
	}

	msgType := frame.Type()
	c.metrics.frameReceived(msgType, len(frame.Payload))
	if c.config.DebugWebsocket {
		c.logger.LogMessageEvent("inbound", msgType, map[string]interface{}{
			"payload_bytes": len(frame.Payload),
		})
	}

	switch msgType {
	case MessageTypeMessage, MessageTypeLLMResponse:
		c.deliverMessage(frame)
	case MessageTypeAudio:
		c.deliverMessage(frame)
		c.handleInboundAudio(a, frame)
	case MessageTypeInitDone:
		c.transition(a, Ready)
	case MessageTypeError:
		msg := frame.Metadata.String("error")
		if v, ok := frame.Metadata["error"]; ok && v != nil && msg == "" {
			msg = fmt.Sprint(v)
		}
		if msg == "" {
			msg = "unspecified server error"
		}
		c.reportError(NewServerReportedError(msg))
	default:
		c.reportError(NewUnknownMessageTypeError(msgType))
	}
}

func (c *Client) deliverMessage(frame *Frame) {
	for _, h := range c.messageHandlers.snapshot() {
		h(frame.Metadata, frame.Payload)
	}
}

// handleInboundAudio admits the chunk to playback unless it belongs to the
// interrupted utterance.
func (c *Client) handleInboundAudio(a *attempt, frame *Frame) {
	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	player, tracker := c.player, c.tracker
	c.mu.Unlock()

	if player == nil {
		return
	}
	if !tracker.observe(frame.Metadata.SpeechID()) {
		c.metrics.chunksDropped("interrupted", 1)
		return
	}
	player.HandleAudioData(frame.Payload)
}

func (c *Client) handleChannelError(a *attempt, cause error) {
	err := NewConnectionError(cause)
	c.reportError(err)

	c.mu.Lock()
	opened := a.opened
	c.mu.Unlock()
	if !opened {
		a.resolve(err)
	}
}

func (c *Client) handleClose(a *attempt, code int) {
	reason := CloseReason(code)

	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	a.session.CloseReason = reason
	player, tracker := c.player, c.tracker
	c.attempt = nil
	c.channel = nil
	changed := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if player != nil {
		player.Stop()
	}
	if tracker != nil {
		tracker.Reset()
	}

	c.logger.LogConnectionEvent("closed", Disconnected, map[string]interface{}{
		"code":       code,
		"reason":     reason,
		"session_id": a.session.ID,
	})
	if changed {
		c.notifyStatus([]ConnectionState{Disconnected})
	}
	a.resolve(NewChannelClosedError(code, reason))
}

// abandon drops an attempt that never opened.
func (c *Client) abandon(a *attempt, reason string) {
	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	cleanup, states := c.detachLocked(reason)
	c.mu.Unlock()

	cleanup()
	c.notifyStatus(states)
}

// detachLocked tears down the current attempt. The returned cleanup must
// run after c.mu is released; states must then be notified.
func (c *Client) detachLocked(reason string) (func(), []ConnectionState) {
	a, ch := c.attempt, c.channel
	if a == nil && ch == nil {
		return func() {}, nil
	}

	player, tracker := c.player, c.tracker
	c.attempt = nil
	c.channel = nil
	if a != nil {
		a.session.CloseReason = reason
	}

	var states []ConnectionState
	if c.setStateLocked(Disconnected) {
		states = append(states, Disconnected)
	}

	return func() {
		if ch != nil {
			if err := ch.Close(CloseNormalClosure, reason); err != nil {
				c.logger.WithError(err).Debug("close failed")
			}
		}
		if a != nil {
			a.cancel()
			a.resolve(NewChannelClosedError(CloseNormalClosure, reason))
		}
		if player != nil {
			player.Stop()
		}
		if tracker != nil {
			tracker.Reset()
		}
	}, states
}

func (c *Client) isCurrent(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == a
}

// transition moves the state machine on behalf of attempt a.
func (c *Client) transition(a *attempt, state ConnectionState) {
	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	changed := c.setStateLocked(state)
	c.mu.Unlock()

	if changed {
		c.logger.LogConnectionEvent("state", state, map[string]interface{}{"session_id": a.session.ID})
		c.notifyStatus([]ConnectionState{state})
	}
}

func (c *Client) setStateLocked(state ConnectionState) bool {
	if c.state == state {
		return false
	}
	c.state = state
	if c.session != nil {
		c.session.State = state
	}
	c.metrics.stateChanged(state)
	return true
}

func (c *Client) notifyStatus(states []ConnectionState) {
	if len(states) == 0 {
		return
	}
	handlers := c.statusHandlers.snapshot()
	for _, state := range states {
		for _, h := range handlers {
			h(state)
		}
	}
}

func (c *Client) reportError(err *AgentError) {
	c.logger.LogError(err)
	c.metrics.errorReported(err.Code)
	for _, h := range c.errorHandlers.snapshot() {
		h(err)
	}
}

func toAgentError(err error, code string) *AgentError {
	if aerr, ok := err.(*AgentError); ok {
		return aerr
	}
	return WrapError(err, err.Error(), code)
}
