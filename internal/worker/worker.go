// Package worker provides a NATS worker that runs reel jobs on request.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/nats-io/nats.go"
)

// drainTimeout bounds how long Run waits for running jobs after shutdown.
const drainTimeout = 2 * time.Minute

// ErrSubjectEmpty indicates that the request subject is empty.
var ErrSubjectEmpty = errors.New("request subject cannot be empty")

// JobService runs one job.
type JobService interface {
	Execute(ctx context.Context, query core.Query) (*service.Result, error)
}

// NatsWorker listens for job requests on a NATS subject, runs them, replies to the
// requester and publishes every finished job on the manifest subject.
type NatsWorker struct {
	natsConnection  *nats.Conn
	subject         string
	manifestSubject string
	jobs            JobService
	log             *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. An empty manifest
// subject disables manifest publishing.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	manifestSubject string,
	jobs JobService,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection:  natsConnection,
		subject:         subject,
		manifestSubject: manifestSubject,
		jobs:            jobs,
		log:             log,
	}, nil
}

// Run starts the worker and blocks until ctx is done. Jobs still running at that
// point are cancelled and reply with their partial manifest before Run returns.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for job requests on %s", w.subject)

	closed := sub.StatusChanged(nats.SubscriptionClosed)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	select {
	case <-closed:
	case <-time.After(drainTimeout):
		w.log.Warn("Gave up waiting for running jobs after %s", drainTimeout)
	}

	return nil
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	request, err := parseRequest(msg)
	if err != nil {
		w.log.Error("Failed to parse job request: %v", err)
		w.respond(msg, service.NewReply(service.JobRequest{}, nil, err))

		return
	}

	w.log.Info("Job request received (workflow %s): %+v", request.Header.WorkflowID, request.Query())

	result, err := w.jobs.Execute(ctx, request.Query())
	if err != nil {
		w.log.Error("Job for workflow %s did not run: %v", request.Header.WorkflowID, err)
	} else {
		w.log.Info("[JOB %s] %s", result.JobID, result.Summary)
	}

	reply := service.NewReply(request, result, err)

	w.respond(msg, reply)

	if err == nil {
		w.publishManifest(reply)
	}
}

func (w *NatsWorker) respond(msg *nats.Msg, reply service.JobReply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal job reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish job reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) publishManifest(reply service.JobReply) {
	if w.manifestSubject == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("[JOB %s] Failed to marshal manifest event: %v", reply.JobID, err)

		return
	}

	err = w.natsConnection.Publish(w.manifestSubject, data)
	if err != nil {
		w.log.Error("[JOB %s] Failed to publish manifest event: %v", reply.JobID, err)
	}
}

func parseRequest(msg *nats.Msg) (service.JobRequest, error) {
	var request service.JobRequest

	if len(msg.Data) == 0 {
		return request, nil
	}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		return service.JobRequest{}, fmt.Errorf("failed to unmarshal job request: %w", err)
	}

	return request, nil
}
