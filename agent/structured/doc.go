// Package structured implements the structured-output invocation protocol:
// obtaining one well-formed JSON answer from an ordered list of candidate
// LLM backends, with a bounded attempt budget per backend, corrective prompt
// rewriting on parse and structure failures, and fallback to the next
// backend when a budget is exhausted.
//
// Attempt and backend counters are independent: exhausting backend K's
// budget does not count against backend K+1, and each backend starts from
// the original prompt.
package structured
