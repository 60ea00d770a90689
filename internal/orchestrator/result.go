package orchestrator

import (
	"time"

	"channelsync/internal/job"
	"channelsync/internal/models"
)

const (
	MessageImportSuccess = "channelsync.import.success"
	MessageImportFailed  = "channelsync.import.error"
)

// Counts are the aggregate counters reported for one connector run.
type Counts struct {
	Read    int `json:"read"`
	Process int `json:"process"`
	Add     int `json:"add"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Delete  int `json:"delete"`
	Errors  int `json:"errors"`
}

func (c Counts) Map() map[string]int {
	return map[string]int{
		"read":    c.Read,
		"process": c.Process,
		"add":     c.Add,
		"update":  c.Update,
		"replace": c.Replace,
		"delete":  c.Delete,
		"errors":  c.Errors,
	}
}

// Result is the outcome of one connector job as seen by callers.
type Result struct {
	Connector string        `json:"connector"`
	JobName   string        `json:"job_name"`
	Mode      job.Mode      `json:"mode"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Counts    Counts        `json:"counts"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ProcessImport aggregates a job result. Job-level failures come before
// per-row errors and only the first MaxReportedErrors of them are kept.
func ProcessImport(jobResult *job.Result) *Result {
	c := jobResult.Counts
	counts := Counts{
		Read:    c.Read,
		Add:     c.Add,
		Update:  c.Update,
		Replace: c.Replace,
		Delete:  c.Delete,
		Errors:  len(jobResult.Failures) + len(jobResult.ContextErrors),
		Process: c.Add + c.Replace + c.Update + c.Delete - c.ErrorEntries,
	}

	errs := make([]string, 0, min(counts.Errors, models.MaxReportedErrors))
	for _, list := range [][]string{jobResult.Failures, jobResult.ContextErrors} {
		for _, e := range list {
			if len(errs) == models.MaxReportedErrors {
				break
			}
			errs = append(errs, e)
		}
	}

	success := jobResult.Successful && counts.Process > 0
	message := MessageImportFailed
	if success {
		message = MessageImportSuccess
	}

	return &Result{
		JobName:  jobResult.JobName,
		Mode:     jobResult.Mode,
		Success:  success,
		Message:  message,
		Counts:   counts,
		Errors:   errs,
		Duration: jobResult.Duration(),
	}
}
