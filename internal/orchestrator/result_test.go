package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"channelsync/internal/job"
	"channelsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessImport_Aggregates(t *testing.T) {
	started := time.Now()
	result := ProcessImport(&job.Result{
		JobName:       "customer_import",
		Mode:          job.ModeImport,
		Successful:    true,
		Counts:        job.Counts{Read: 12, Add: 5, Update: 2, Replace: 1, Delete: 1, ErrorEntries: 2},
		Failures:      []string{"f1"},
		ContextErrors: []string{"row 3: bad", "row 9: bad"},
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Second),
	})

	assert.Equal(t, 7, result.Counts.Process, "add+replace+update+delete-errorEntries")
	assert.Equal(t, 3, result.Counts.Errors, "failures plus context errors")
	assert.Equal(t, 12, result.Counts.Read)
	assert.True(t, result.Success)
	assert.Equal(t, MessageImportSuccess, result.Message)
	assert.Equal(t, []string{"f1", "row 3: bad", "row 9: bad"}, result.Errors)
	assert.Equal(t, 3*time.Second, result.Duration)
}

func TestProcessImport_SuccessNeedsProcessedRecords(t *testing.T) {
	nothing := ProcessImport(&job.Result{Successful: true, Counts: job.Counts{Read: 3, Skip: 3}})
	assert.False(t, nothing.Success)
	assert.Equal(t, MessageImportFailed, nothing.Message)

	failed := ProcessImport(&job.Result{Successful: false, Counts: job.Counts{Add: 10}})
	assert.False(t, failed.Success)
	assert.Equal(t, 10, failed.Counts.Process)
}

func TestProcessImport_CapsErrorsEarliestFirst(t *testing.T) {
	var failures, contextErrors []string
	for i := 0; i < 60; i++ {
		failures = append(failures, fmt.Sprintf("failure %d", i))
	}
	for i := 0; i < 80; i++ {
		contextErrors = append(contextErrors, fmt.Sprintf("row %d", i))
	}

	result := ProcessImport(&job.Result{Failures: failures, ContextErrors: contextErrors, Counts: job.Counts{ErrorEntries: 80}})

	assert.Equal(t, 140, result.Counts.Errors)
	require.Len(t, result.Errors, models.MaxReportedErrors)
	assert.Equal(t, "failure 0", result.Errors[0])
	assert.Equal(t, "failure 59", result.Errors[59])
	assert.Equal(t, "row 0", result.Errors[60])
	assert.Equal(t, "row 39", result.Errors[99])
}

func TestProcessImport_ExactlyAtCap(t *testing.T) {
	var contextErrors []string
	for i := 0; i < 150; i++ {
		contextErrors = append(contextErrors, fmt.Sprintf("row %d", i))
	}
	result := ProcessImport(&job.Result{ContextErrors: contextErrors})
	assert.Len(t, result.Errors, 100)
	assert.Equal(t, "row 99", result.Errors[99])
}

func TestSummary_Success(t *testing.T) {
	assert.True(t, (&Summary{Results: []*Result{{Success: true}}}).Success())
	assert.False(t, (&Summary{Results: []*Result{{Success: true}, {Success: false}}}).Success())
	assert.False(t, (&Summary{Skipped: []Skip{{Connector: "x"}}}).Success())
}
