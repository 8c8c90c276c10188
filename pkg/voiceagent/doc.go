// Package voiceagent is a Go client for real-time voice agents reached over
// a single WebSocket.
//
// # Overview
//
// The client streams microphone audio to the agent in small binary chunks,
// plays the agent's synthesized speech as it arrives and lets the user cut
// the agent off mid-utterance (barge-in). It provides:
//   - A connection state machine: disconnected, connecting, connected,
//     activating, ready
//   - A decoder for the length-prefixed inbound frames
//   - JSON control messages (init, manual_text, create_response, interrupt,
//     invoke_llm)
//   - A single-flight playback queue over a pluggable AudioSink
//   - A speech tracker that drops audio of an interrupted utterance
//   - PortAudio capture and playback, WAV file streaming
//   - Prometheus metrics and zerolog logging
//
// # Quick Start
//
//	config := voiceagent.LoadClientConfig()
//	client := voiceagent.NewClient(config,
//		voiceagent.WithSinkFactory(voiceagent.NewPortAudioSinkFactory(24000, nil)))
//
//	client.AddStatusHandler(voiceagent.CreateConnectionStatusHandler(nil, nil))
//	client.AddErrorHandler(voiceagent.CreateErrorLoggingHandler(nil, "agent"))
//	client.AddMessageHandler(voiceagent.CreateTextHandler(func(msgType, text string) {
//		fmt.Println(text)
//	}))
//
//	if err := client.Connect(ctx, "support-agent"); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Cleanup()
//
//	mic := voiceagent.NewPortAudioCapture(nil)
//	if err := client.StartStreaming(mic); err != nil {
//		log.Fatal(err)
//	}
//
// Connect returns once the socket is open. The session becomes ready when
// the agent answers the init message with init_done; watch for it with a
// status handler.
//
// # Wire Format
//
// Every inbound message is a frame:
//
//	[u32 big-endian metadata length][UTF-8 JSON metadata][payload]
//
// The metadata "type" selects the handling: message, audio and
// llm_response frames go to message handlers, audio payloads are also
// played, init_done completes activation and error frames are reported.
// Outbound control messages are plain JSON text; outbound audio is plain
// binary. Neither is framed.
//
// # Interrupts
//
// Audio frames carry a speech_id. A new id starts a new utterance.
// Client.Interrupt marks the live utterance interrupted, stops playback and
// sends an interrupt message with the elapsed milliseconds; later chunks of
// that utterance are discarded.
//
// # Errors
//
// Failures are *AgentError values with a string code. They are returned
// from the failing call and reported once to error handlers. Match them
// with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, voiceagent.ErrConnectionTimeout) {
//		// the socket did not open in time
//	}
//
// Nothing is retried and a dropped connection is not re-established.
//
// # Configuration
//
// LoadClientConfig reads .env and VOICE_AGENT_* variables on top of the
// defaults (localhost:8765, /ws, TLS on, 5 s connect timeout). The token is
// taken, in order, from VOICE_AGENT_TOKEN, a VOICE_AGENT_TOKEN_ENDPOINT, or
// minted from VOICE_AGENT_API_KEY.
//
// # Thread Safety
//
// Client methods are safe for concurrent use. Handlers run synchronously on
// the connection's event goroutine in event order and may call back into
// the client; a slow handler delays later events.
package voiceagent
