package service

import (
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/google/uuid"
)

// JobRequest asks for one job run. Zero fields fall back to the configured defaults.
type JobRequest struct {
	Header   events.EventHeader `json:"header"`
	Category string             `json:"category,omitempty"`
	Window   string             `json:"window,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// Query converts the request into a job query.
func (r JobRequest) Query() core.Query {
	return core.Query{Category: r.Category, Window: r.Window, Limit: r.Limit}
}

// JobReply reports a finished job, or the reason it did not run.
type JobReply struct {
	Header          events.EventHeader `json:"header"`
	JobID           string             `json:"job_id,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Manifest        *core.Manifest     `json:"manifest,omitempty"`
	CompilationPath string             `json:"compilation_path,omitempty"`
	CompilationKey  string             `json:"compilation_key,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// NewReply builds the reply to req. The workflow, user and tenant of the request
// are carried over; the reply gets its own event ID.
func NewReply(req JobRequest, result *Result, err error) JobReply {
	header := req.Header
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now().UTC()

	reply := JobReply{Header: header}

	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	if header.WorkflowID == "" {
		reply.Header.WorkflowID = result.JobID
	}

	reply.JobID = result.JobID
	reply.Summary = result.Summary
	reply.Manifest = result.Manifest
	reply.CompilationPath = result.CompilationPath
	reply.CompilationKey = result.CompilationKey

	return reply
}
