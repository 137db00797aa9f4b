// Package ai dispatches inbound messages to the AI backend through either the
// structured message bus or a direct agent call, with a demo-mode short
// circuit in front of both.
package ai

import (
	"errors"
	"strings"
)

const (
	// EmptyResponsePlaceholder replaces blank AI responses so platforms never
	// receive an empty send.
	EmptyResponsePlaceholder = "(The assistant returned an empty response.)"

	// NoProviderReply is the user-facing text for provider-configuration
	// failures.
	NoProviderReply = "No AI provider is configured. Ask the operator to configure a provider and model."

	demoPrefix     = "[Demo Mode] "
	demoEchoLimit  = 100
	genericErrMax  = 200
	genericErrText = "Sorry, something went wrong while processing your message: "
)

// ErrConversationNotFound means the backend's working set no longer contains
// the conversation id the session carries; the caller should take the
// recovery path and retry with a fresh id.
var ErrConversationNotFound = errors.New("conversation not found in backend working set")

// Request carries one message into the AI backend.
type Request struct {
	ConversationID string
	BackendUserID  string
	Content        string
	Platform       string
	ChannelID      string
}

// GuardResponse replaces empty or whitespace-only responses with the
// placeholder.
func GuardResponse(text string) string {
	if strings.TrimSpace(text) == "" {
		return EmptyResponsePlaceholder
	}
	return text
}

// DemoReply builds the canned demo-mode echo of the inbound text.
func DemoReply(input string) string {
	return demoPrefix + "You said: " + Truncate(strings.TrimSpace(input), demoEchoLimit)
}

// Truncate shortens text to at most max runes, appending an ellipsis when it
// cuts. It never splits a multi-byte character.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// ClassifyError maps a backend failure to the reply shown to the user.
// Provider, model, and auth related phrases get the configuration hint;
// everything else gets a truncated generic message.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, phrase := range []string{"provider", "model", "api key", "api_key", "auth", "unauthorized", "forbidden"} {
		if strings.Contains(lower, phrase) {
			return NoProviderReply
		}
	}
	return genericErrText + Truncate(msg, genericErrMax)
}
