package analyst

import (
	"time"
)

// WithAnthropicURL overrides the Anthropic endpoint.
func WithAnthropicURL(url string) Options {
	return func(o *options) {
		o.anthropicURL = url
	}
}

// WithOpenAIURL overrides the OpenAI endpoint.
func WithOpenAIURL(url string) Options {
	return func(o *options) {
		o.openAIURL = url
	}
}

// WithRetryWait overrides the wait between retries.
func WithRetryWait(wait time.Duration) Options {
	return func(o *options) {
		o.retryWait = wait
	}
}
