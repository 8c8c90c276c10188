package voiceagent

import "github.com/bytedance/sonic"

// Outbound control message types
const (
	ControlInit           = "init"
	ControlManualText     = "manual_text"
	ControlCreateResponse = "create_response"
	ControlInterrupt      = "interrupt"
	ControlInvokeLLM      = "invoke_llm"
)

// ControlMessage is any outbound JSON control message.
type ControlMessage interface {
	MessageType() string
}

// InitMessage activates the agent once the socket is open. AgentConfig is
// the agent configuration already serialized to a JSON string, or nil.
type InitMessage struct {
	Type              string  `json:"type"`
	AgentName         string  `json:"agent_name"`
	AgentConfig       *string `json:"agent_config"`
	StreamUserSTT     bool    `json:"stream_user_stt"`
	StreamOutputAudio bool    `json:"stream_output_audio"`
	InitGreeting      bool    `json:"init_greeting"`
}

type ManualTextMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type CreateResponseMessage struct {
	Type string `json:"type"`
}

type InterruptMessage struct {
	Type          string `json:"type"`
	SpeechID      string `json:"speech_id"`
	InterruptedAt int64  `json:"interrupted_at"`
}

// ChatMessage is one entry of the history passed to invoke_llm.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type InvokeLLMMessage struct {
	Type     string        `json:"type"`
	Model    string        `json:"model"`
	Prompt   string        `json:"prompt"`
	Messages []ChatMessage `json:"messages"`
}

func (m InitMessage) MessageType() string           { return m.Type }
func (m ManualTextMessage) MessageType() string     { return m.Type }
func (m CreateResponseMessage) MessageType() string { return m.Type }
func (m InterruptMessage) MessageType() string      { return m.Type }
func (m InvokeLLMMessage) MessageType() string      { return m.Type }

// NewInitMessage serializes agentConfig (when non-nil) into the string form
// the server expects.
func NewInitMessage(agentName string, agentConfig any, streamUserSTT, streamOutputAudio, initGreeting bool) (InitMessage, error) {
	msg := InitMessage{
		Type:              ControlInit,
		AgentName:         agentName,
		StreamUserSTT:     streamUserSTT,
		StreamOutputAudio: streamOutputAudio,
		InitGreeting:      initGreeting,
	}
	if agentConfig != nil {
		raw, err := sonic.MarshalString(agentConfig)
		if err != nil {
			return msg, err
		}
		msg.AgentConfig = &raw
	}
	return msg, nil
}

func NewManualTextMessage(content string) ManualTextMessage {
	return ManualTextMessage{Type: ControlManualText, Content: content}
}

func NewCreateResponseMessage() CreateResponseMessage {
	return CreateResponseMessage{Type: ControlCreateResponse}
}

func NewInterruptMessage(speechID string, interruptedAtMs int64) InterruptMessage {
	return InterruptMessage{Type: ControlInterrupt, SpeechID: speechID, InterruptedAt: interruptedAtMs}
}

func NewInvokeLLMMessage(model, prompt string, messages []ChatMessage) InvokeLLMMessage {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return InvokeLLMMessage{Type: ControlInvokeLLM, Model: model, Prompt: prompt, Messages: messages}
}
