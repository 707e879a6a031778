// Package types holds shared data types used across the learnflow core:
// the Job record and the unified structured error type.
package types
