// Package openaicompat implements llm.Provider over any OpenAI-compatible
// chat completions API (OpenRouter, OpenAI, local inference gateways).
package openaicompat
