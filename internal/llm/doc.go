// Package llm contains the adapters used for the conversational fallback.
// It defines a provider-neutral request that carries the persona, the
// session facts and knowledge cards, and the Client interface implemented by
// the HTTP backends.
package llm
