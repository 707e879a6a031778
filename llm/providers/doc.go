// Package providers contains shared wire types and error mapping helpers
// for the concrete LLM provider adapters.
package providers
