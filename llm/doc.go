// Package llm defines the provider abstraction over text-generation
// backends: the request/response types, the unified error model, and the
// Provider interface implemented by the adapters under llm/providers.
package llm
