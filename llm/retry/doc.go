// Package retry provides the exponential backoff policy used between
// invocation attempts against LLM backends.
package retry
