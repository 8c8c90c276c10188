package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rojolang/voice-agent-go/pkg/voiceagent"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	host        string
	port        int
	token       string
	apiKey      string
	insecure    bool
	logLevel    string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voiceagent",
		Short: "Voice agent client CLI",
		Long:  "Talk to a real-time voice agent from the terminal",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Agent server host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "Agent server port")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Pre-issued session token")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key used to mint session tokens")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Use ws:// instead of wss://")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (TRACE, DEBUG, INFO, WARNING, ERROR, OFF)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(talkCmd())
	rootCmd.AddCommand(sendFileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		voiceagent.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func setupLogging() {
	logConfig := voiceagent.DefaultLogConfig()
	level := logLevel
	if level == "" {
		level = os.Getenv("VOICE_AGENT_DEBUG_LEVEL")
	}
	if level != "" {
		logConfig.Level = voiceagent.ParseLogLevel(level)
	}
	if verbose {
		logConfig.Level = voiceagent.DebugLevel
	}
	voiceagent.SetGlobalLogger(voiceagent.NewAgentLogger(logConfig))
}

// loadConfig applies command-line flags over the environment.
func loadConfig() *voiceagent.ClientConfig {
	config := voiceagent.LoadClientConfig()
	if host != "" {
		config.Host = host
	}
	if port != 0 {
		config.Port = port
	}
	if token != "" {
		config.Token = token
	}
	if apiKey != "" {
		config.APIKey = apiKey
	}
	if insecure {
		config.Secure = false
	}
	if verbose {
		config.DebugWebsocket = true
	}
	return config
}

func newClient(config *voiceagent.ClientConfig, playback bool, outputRate int) (*voiceagent.Client, *voiceagent.Metrics) {
	metrics := voiceagent.NewMetrics("voiceagent")
	opts := []voiceagent.ClientOption{voiceagent.WithMetrics(metrics)}
	if playback {
		opts = append(opts, voiceagent.WithSinkFactory(voiceagent.NewPortAudioSinkFactory(outputRate, config.OutputDeviceID)))
	}

	client := voiceagent.NewClient(config, opts...)
	client.AddErrorHandler(voiceagent.CreateErrorLoggingHandler(nil, "agent"))
	client.AddStatusHandler(voiceagent.CreateConnectionStatusHandler(nil, nil))
	if verbose {
		client.AddMessageHandler(voiceagent.CreateLoggingMessageHandler(nil, true))
	}
	return client, metrics
}

func serveMetrics(ctx context.Context, metrics *voiceagent.Metrics) {
	if metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			voiceagent.GetGlobalLogger().WithError(err).Error("metrics server failed")
		}
	}()
	voiceagent.GetGlobalLogger().WithField("addr", metricsAddr).Info("serving metrics")
}

// waitForState blocks until the client reaches want, disconnects, or ctx
// ends.
func waitForState(ctx context.Context, client *voiceagent.Client, want voiceagent.ConnectionState) error {
	states := make(chan voiceagent.ConnectionState, 8)
	unsubscribe := client.AddStatusHandler(func(s voiceagent.ConnectionState) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsubscribe()

	if client.State() == want {
		return nil
	}
	for {
		select {
		case s := <-states:
			if s == want {
				return nil
			}
			if s == voiceagent.Disconnected {
				return fmt.Errorf("disconnected: %s", client.CloseReason())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func exitOnIssues(config *voiceagent.ClientConfig) {
	if issues := config.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "config: %s\n", issue)
		}
		os.Exit(1)
	}
}

func talkCmd() *cobra.Command {
	var (
		noPlayback     bool
		outputRate     int
		transcriptPath string
		readyTimeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "talk [agent-id]",
		Short: "Start a voice conversation",
		Long: `Stream the microphone to an agent and play its replies.

Type a line to send it as text. Commands: /interrupt, /respond, /quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			exitOnIssues(config)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, metrics := newClient(config, !noPlayback, outputRate)
			defer client.Cleanup()
			serveMetrics(ctx, metrics)

			transcript := voiceagent.NewTranscript(0, nil)
			transcript.Attach(client)
			client.AddMessageHandler(voiceagent.CreateTextHandler(func(msgType, text string) {
				fmt.Printf("agent> %s\n", text)
			}))

			if err := client.Connect(ctx, args[0], voiceagent.WithStreamOutputAudio(!noPlayback)); err != nil {
				return err
			}

			readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
			err := waitForState(readyCtx, client, voiceagent.Ready)
			cancel()
			if err != nil {
				return fmt.Errorf("agent did not become ready: %w", err)
			}

			capture := voiceagent.NewCaptureConfig()
			capture.DeviceID = config.InputDeviceID
			if err := client.StartStreaming(voiceagent.NewPortAudioCapture(capture)); err != nil {
				return err
			}

			fmt.Println("Connected. Speak, or type a message.")
			runPrompt(ctx, client, transcript)

			if transcriptPath != "" {
				return writeTranscript(transcript, transcriptPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPlayback, "no-playback", false, "Do not play agent audio")
	cmd.Flags().IntVar(&outputRate, "output-rate", 24000, "Sample rate of agent audio (s16le mono)")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Write the text transcript to this JSON file on exit")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 15*time.Second, "How long to wait for the agent to activate")
	return cmd
}

func runPrompt(ctx context.Context, client *voiceagent.Client, transcript *voiceagent.Transcript) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit":
				return
			case "/interrupt":
				if res, err := client.Interrupt(); err == nil && res != nil {
					fmt.Printf("interrupted %s at %d ms\n", res.SpeechID, res.InterruptedAtMs)
				}
			case "/respond":
				_ = client.CreateResponse()
			default:
				if err := client.SendTextMessage(line); err == nil {
					transcript.RecordUserText(line)
				}
			}
			if !client.IsConnected() {
				fmt.Printf("connection closed: %s\n", client.CloseReason())
				return
			}
		}
	}
}

func writeTranscript(transcript *voiceagent.Transcript, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := transcript.Export(f); err != nil {
		return err
	}
	fmt.Printf("Transcript written to %s (%d entries)\n", path, transcript.Len())
	return nil
}

func sendFileCmd() *cobra.Command {
	var (
		linger       time.Duration
		respond      bool
		readyTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send-file [agent-id] [wav-file]",
		Short: "Stream a WAV file as user audio",
		Long:  "Stream a WAV file to an agent in real time, then listen for the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			exitOnIssues(config)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, metrics := newClient(config, false, 0)
			defer client.Cleanup()
			serveMetrics(ctx, metrics)

			client.AddMessageHandler(voiceagent.CreateTextHandler(func(msgType, text string) {
				fmt.Printf("agent> %s\n", text)
			}))

			if err := client.Connect(ctx, args[0], voiceagent.WithStreamOutputAudio(false), voiceagent.WithInitGreeting(false)); err != nil {
				return err
			}
			readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
			err := waitForState(readyCtx, client, voiceagent.Ready)
			cancel()
			if err != nil {
				return fmt.Errorf("agent did not become ready: %w", err)
			}

			file := voiceagent.NewWavFileCapture(args[1], nil)
			if err := client.StartStreaming(file); err != nil {
				return err
			}
			fmt.Printf("Streaming %s...\n", args[1])

			select {
			case <-file.Done():
			case <-ctx.Done():
				return nil
			}
			if err := file.Err(); err != nil {
				return err
			}
			if err := client.StopStreaming(); err != nil {
				return err
			}

			if respond {
				if err := client.CreateResponse(); err != nil {
					return err
				}
			}

			select {
			case <-time.After(linger):
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&linger, "linger", 10*time.Second, "How long to keep listening after the file ends")
	cmd.Flags().BoolVar(&respond, "respond", true, "Send create_response after the file ends")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 15*time.Second, "How long to wait for the agent to activate")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Long:  "Display the configuration built from defaults, .env, the environment and flags",
		Run: func(cmd *cobra.Command, args []string) {
			config := loadConfig()
			config.PrintConfig()

			issues := config.Validate()
			if len(issues) == 0 {
				fmt.Println("\nConfiguration is valid")
				return
			}
			fmt.Println("\nIssues:")
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
		},
	}
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
		Long:  "Commands for listing audio devices",
	}
	cmd.AddCommand(devicesListCmd())
	return cmd
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Long:  "List audio devices. Use an ID as VOICE_AGENT_INPUT_DEVICE_ID or VOICE_AGENT_OUTPUT_DEVICE_ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := voiceagent.NewAudioDeviceManager()
			if err := manager.Initialize(); err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}
			defer manager.Cleanup()

			fmt.Println("Input Devices:")
			for _, d := range manager.InputDevices() {
				fmt.Printf("  %s\n", voiceagent.FormatDevice(d))
			}
			fmt.Println("\nOutput Devices:")
			for _, d := range manager.OutputDevices() {
				fmt.Printf("  %s\n", voiceagent.FormatDevice(d))
			}
			return nil
		},
	}
}
