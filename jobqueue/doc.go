// Package jobqueue implements the asynchronous job execution engine: a
// Redis-backed durable FIFO of background jobs with status and progress
// tracking, and the single-goroutine worker that claims jobs and runs the
// processor registered for each job type.
//
// Clients submit work through Queue.Create, poll Queue.Status until the job
// reaches a terminal state, and read the result or error from the record.
// Job records expire after a retention window regardless of status.
package jobqueue
