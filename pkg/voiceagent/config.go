package voiceagent

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultConnectTimeout = 5000 * time.Millisecond
	DefaultWriteWait      = 10 * time.Second
	DefaultPath           = "/ws"
)

type ClientConfig struct {
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Path           string            `json:"path"`
	Secure         bool              `json:"secure"`
	Token          string            `json:"-"`
	APIKey         string            `json:"-"`
	UserID         string            `json:"user_id,omitempty"`
	TokenEndpoint  *string           `json:"token_endpoint,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	ConnectTimeout time.Duration     `json:"connect_timeout"`
	WriteWait      time.Duration     `json:"write_wait"`
	DebugLevel     string            `json:"debug_level"`
	DebugWebsocket bool              `json:"debug_websocket"`
	DebugAudio     bool              `json:"debug_audio"`
	InputDeviceID  *int              `json:"input_device_id,omitempty"`
	OutputDeviceID *int              `json:"output_device_id,omitempty"`
}

// NewClientConfig returns the defaults without reading the environment.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           8765,
		Path:           DefaultPath,
		Secure:         true,
		ConnectTimeout: DefaultConnectTimeout,
		WriteWait:      DefaultWriteWait,
		DebugLevel:     "INFO",
		Headers:        make(map[string]string),
	}
}

// LoadClientConfig returns the defaults overridden by .env and the
// process environment.
func LoadClientConfig() *ClientConfig {
	c := NewClientConfig()
	c.loadFromEnv()
	return c
}

func (c *ClientConfig) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	if host := os.Getenv("VOICE_AGENT_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("VOICE_AGENT_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			c.Port = val
		}
	}
	if path := os.Getenv("VOICE_AGENT_PATH"); path != "" {
		c.Path = path
	}
	if secure := os.Getenv("VOICE_AGENT_SECURE"); secure != "" {
		c.Secure = secure != "false"
	}

	c.Token = os.Getenv("VOICE_AGENT_TOKEN")
	c.APIKey = os.Getenv("VOICE_AGENT_API_KEY")
	c.UserID = os.Getenv("VOICE_AGENT_USER_ID")

	if endpoint := os.Getenv("VOICE_AGENT_TOKEN_ENDPOINT"); endpoint != "" {
		c.TokenEndpoint = &endpoint
	}

	if timeout := os.Getenv("VOICE_AGENT_CONNECT_TIMEOUT_MS"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			c.ConnectTimeout = time.Duration(val) * time.Millisecond
		}
	}

	if level := os.Getenv("VOICE_AGENT_DEBUG_LEVEL"); level != "" {
		c.DebugLevel = strings.ToUpper(level)
	}

	c.DebugWebsocket = os.Getenv("VOICE_AGENT_DEBUG_WEBSOCKET") == "true"
	c.DebugAudio = os.Getenv("VOICE_AGENT_DEBUG_AUDIO") == "true"

	if id := os.Getenv("VOICE_AGENT_INPUT_DEVICE_ID"); id != "" {
		if deviceID, err := strconv.Atoi(id); err == nil {
			c.InputDeviceID = &deviceID
		}
	}
	if id := os.Getenv("VOICE_AGENT_OUTPUT_DEVICE_ID"); id != "" {
		if deviceID, err := strconv.Atoi(id); err == nil {
			c.OutputDeviceID = &deviceID
		}
	}
}

// Validate returns list of issues
func (c *ClientConfig) Validate() []string {
	issues := []string{}

	if c.Host == "" {
		issues = append(issues, "Host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("Invalid port: %d", c.Port))
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		issues = append(issues, "Path must start with '/'")
	}
	if c.Token == "" && c.APIKey == "" && c.TokenEndpoint == nil {
		issues = append(issues, "One of VOICE_AGENT_TOKEN, VOICE_AGENT_API_KEY or VOICE_AGENT_TOKEN_ENDPOINT must be set")
	}
	if c.APIKey != "" && len(c.APIKey) < APIKeyMinLength {
		issues = append(issues, fmt.Sprintf("API key must be at least %d characters", APIKeyMinLength))
	}
	if c.ConnectTimeout <= 0 {
		issues = append(issues, "Connect timeout must be positive")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}
	found := false
	for _, level := range validLevels {
		if level == c.DebugLevel {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid debug level: %s", c.DebugLevel))
	}

	return issues
}

// BuildURL returns the agent endpoint with the token as a query parameter.
func (c *ClientConfig) BuildURL(token string) string {
	scheme := "wss"
	if !c.Secure {
		scheme = "ws"
	}
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}
	if token != "" {
		u.RawQuery = "token=" + url.QueryEscape(token)
	}
	return u.String()
}

func (c *ClientConfig) PrintConfig() {
	fmt.Println("Voice Agent Configuration")
	fmt.Println("==================================================")

	fmt.Printf("Endpoint: %s\n", c.BuildURL(""))
	fmt.Printf("Token: %s\n", maskString(c.Token))
	fmt.Printf("API Key: %s\n", maskString(c.APIKey))
	if c.UserID != "" {
		fmt.Printf("User ID: %s\n", c.UserID)
	}
	if c.TokenEndpoint != nil {
		fmt.Printf("Token Endpoint: %s\n", *c.TokenEndpoint)
	}
	fmt.Printf("Connect Timeout: %s\n", c.ConnectTimeout)
	fmt.Printf("Debug Level: %s\n", c.DebugLevel)
	fmt.Printf("Debug WebSocket: %t\n", c.DebugWebsocket)
	fmt.Printf("Debug Audio: %t\n", c.DebugAudio)

	if c.InputDeviceID != nil {
		fmt.Printf("Input Device ID: %d\n", *c.InputDeviceID)
	} else {
		fmt.Println("Input Device: Default")
	}
	if c.OutputDeviceID != nil {
		fmt.Printf("Output Device ID: %d\n", *c.OutputDeviceID)
	} else {
		fmt.Println("Output Device: Default")
	}
}

// maskString hides all but the edges of a secret.
func maskString(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// redactURL drops the query string so tokens never reach the logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.RawQuery != "" {
		u.RawQuery = "token=REDACTED"
	}
	return u.String()
}
