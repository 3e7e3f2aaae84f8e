package examlab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name    string
		details []CheckDetail
		status  CheckStatus
		summary string
	}{
		{
			name: "all passed",
			details: []CheckDetail{
				{Name: "Hostname", Passed: true},
				{Name: "IP configuration", Passed: true},
			},
			status:  CheckPass,
			summary: "2/2 checks passed.",
		},
		{
			name: "one of two",
			details: []CheckDetail{
				{Name: "Hostname", Passed: true},
				{Name: "IP configuration", Passed: false},
			},
			status:  CheckFail,
			summary: "1/2 checks passed.",
		},
		{
			name: "none passed",
			details: []CheckDetail{
				{Name: "User alice", Passed: false},
			},
			status:  CheckFail,
			summary: "0/1 checks passed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Aggregate(tt.details, at)
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.summary, r.Summary)
			assert.Equal(t, tt.details, r.Details)
			assert.Equal(t, time.UTC, r.Timestamp.Location())
			assert.True(t, r.Timestamp.Equal(at))
		})
	}
}

func TestErrorResult(t *testing.T) {
	r := ErrorResult("Container not running", nil, time.Now())
	assert.Equal(t, CheckError, r.Status)
	assert.Equal(t, "Container not running", r.Summary)
	assert.NotNil(t, r.Details)
	assert.Empty(t, r.Details)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "task-7", ContainerName("task-", 7))
	assert.Equal(t, "rhcsa-task-20", ContainerName("rhcsa-task-", 20))
}

func TestGroupValid(t *testing.T) {
	assert.True(t, GroupNode1.Valid())
	assert.True(t, GroupNode2.Valid())
	assert.False(t, Group("NODE3").Valid())
}
