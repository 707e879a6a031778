package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestJobStatus_Valid(t *testing.T) {
	for _, s := range []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, JobStatus("done").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJob_Terminal(t *testing.T) {
	job := &Job{Status: JobProcessing}
	assert.False(t, job.Terminal())
	job.Status = JobFailed
	assert.True(t, job.Terminal())
}
