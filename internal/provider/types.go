package provider

import "github.com/freegpt4/webapi/internal/proxy"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn. The JSON shape is also the persisted history format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request against a provider.
type Request struct {
	Provider string
	Model    string
	Messages []Message
	// Cookies are sent upstream as a Cookie header.
	Cookies map[string]string
	// Proxy routes the call through an outbound proxy when non-nil.
	Proxy *proxy.Entry
}

// Reply is a completion result. Provider is the backend that answered,
// which differs from the requested one for Auto.
type Reply struct {
	Provider string
	Model    string
	Text     string
}

// Model represents a model entry returned by the /v1/models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
