package batch

// Package batch submits large sets of independent requests as asynchronous
// jobs and tracks their poll-driven lifecycle.

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/api"
)

const (
	// MaxRequests is the largest number of requests one job may carry.
	MaxRequests = 100_000
	// MaxPayloadBytes bounds the serialized size of one job (256 MB).
	MaxPayloadBytes = 256 << 20
	// Expiry is the hard processing deadline. Requests still unfinished
	// when it passes are expired, never silently retried.
	Expiry = 24 * time.Hour
)

var customIDRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidationError reports a submission the service would reject. Nothing
// has been sent when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid batch submission: " + e.Message
}

// Scheduler validates and submits batch jobs.
type Scheduler struct {
	client *api.Client
}

func NewScheduler(client *api.Client) *Scheduler {
	return &Scheduler{client: client}
}

// Submit validates the request set locally, creates the job, and returns a
// handle for polling it.
func (s *Scheduler) Submit(ctx context.Context, requests []api.BatchRequest) (*Job, error) {
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	resource, err := s.client.CreateBatch(ctx, requests)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("batch_id", resource.ID).
		Int("requests", len(requests)).
		Msg("batch job submitted")

	job := &Job{
		client:       s.client,
		numRequests:  len(requests),
		submittedIDs: make(map[string]bool, len(requests)),
	}
	for _, r := range requests {
		job.submittedIDs[r.CustomID] = true
	}
	if err := job.update(resource); err != nil {
		return nil, err
	}
	return job, nil
}

func validateRequests(requests []api.BatchRequest) error {
	if len(requests) == 0 {
		return &ValidationError{Message: "no requests"}
	}
	if len(requests) > MaxRequests {
		return &ValidationError{Message: errors.Errorf("%d requests exceeds the %d limit", len(requests), MaxRequests).Error()}
	}

	seen := make(map[string]bool, len(requests))
	size := 0
	for i, r := range requests {
		if !customIDRegexp.MatchString(r.CustomID) {
			return &ValidationError{Message: errors.Errorf("request %d has invalid custom_id %q", i, r.CustomID).Error()}
		}
		if seen[r.CustomID] {
			return &ValidationError{Message: errors.Errorf("duplicate custom_id %q", r.CustomID).Error()}
		}
		seen[r.CustomID] = true

		b, err := json.Marshal(r)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize request %q", r.CustomID)
		}
		size += len(b) + 1
	}
	if size > MaxPayloadBytes {
		return &ValidationError{Message: errors.Errorf("serialized payload %d bytes exceeds the %d limit", size, MaxPayloadBytes).Error()}
	}
	return nil
}

// Job is the caller's handle on one submitted batch. All methods are safe
// for concurrent use.
type Job struct {
	client       *api.Client
	numRequests  int
	submittedIDs map[string]bool

	mu       sync.Mutex
	resource *api.Batch
}

// ID returns the service-assigned job id.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource.ID
}

// Status returns the last observed lifecycle state.
func (j *Job) Status() api.ProcessingStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource.ProcessingStatus
}

// Counts returns the last observed per-outcome totals.
func (j *Job) Counts() api.RequestCounts {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource.RequestCounts
}

// Ended reports whether the job has reached its terminal state.
func (j *Job) Ended() bool {
	return j.Status() == api.BatchEnded
}

// Poll fetches the job state once. Polling cadence is the caller's
// business; there is no background goroutine.
func (j *Job) Poll(ctx context.Context) (*api.Batch, error) {
	resource, err := j.client.GetBatch(ctx, j.ID())
	if err != nil {
		return nil, err
	}
	if err := j.update(resource); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource, nil
}

// Cancel asks the service to stop the job. Cancellation is advisory:
// requests already dispatched may still settle as succeeded or errored, so
// the job is not terminal until a later poll observes ended.
func (j *Job) Cancel(ctx context.Context) (*api.Batch, error) {
	resource, err := j.client.CancelBatch(ctx, j.ID())
	if err != nil {
		return nil, err
	}
	if err := j.update(resource); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource, nil
}

// update validates the observed resource against the job's invariants and
// applies the local expiry guard before storing it.
func (j *Job) update(resource *api.Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.resource != nil {
		if err := validateTransition(j.resource.ProcessingStatus, resource.ProcessingStatus); err != nil {
			return err
		}
	}

	if resource.RequestCounts.Total() != j.numRequests {
		return errors.Errorf("request counts sum to %d, expected %d", resource.RequestCounts.Total(), j.numRequests)
	}
	// Local expiry guard: the server is authoritative when it reports
	// ended first, but a poll past the deadline must not report remaining
	// work as live.
	if resource.ProcessingStatus != api.BatchEnded && !resource.CreatedAt.IsZero() &&
		time.Since(resource.CreatedAt) >= Expiry {
		expired := *resource
		expired.ProcessingStatus = api.BatchEnded
		expired.RequestCounts.Expired += expired.RequestCounts.Processing
		expired.RequestCounts.Processing = 0
		log.Warn().
			Str("batch_id", resource.ID).
			Msg("batch past 24h deadline, treating remaining requests as expired")
		resource = &expired
	}

	if resource.ProcessingStatus == api.BatchInProgress {
		c := resource.RequestCounts
		// Nothing settles out of the processing bucket until the job ends
		// (or cancellation flips the status to canceling first).
		if c.Succeeded != 0 || c.Errored != 0 || c.Canceled != 0 || c.Expired != 0 {
			return errors.Errorf("in-progress batch %s reports settled counts (succeeded=%d errored=%d canceled=%d expired=%d)",
				resource.ID, c.Succeeded, c.Errored, c.Canceled, c.Expired)
		}
	}

	j.resource = resource
	return nil
}

func validateTransition(from, to api.ProcessingStatus) error {
	if from == to {
		return nil
	}
	switch from {
	case api.BatchInProgress:
		if to == api.BatchCanceling || to == api.BatchEnded {
			return nil
		}
	case api.BatchCanceling:
		if to == api.BatchEnded {
			return nil
		}
	case api.BatchEnded:
		// Terminal.
	}
	return errors.Errorf("invalid batch state transition: %s -> %s", from, to)
}

// Results streams the results artifact of an ended job. Lines arrive in
// completion order, not submission order; each is delivered to fn keyed by
// custom id. Unknown custom ids are an error.
func (j *Job) Results(ctx context.Context, fn func(api.BatchResult) error) error {
	j.mu.Lock()
	resource := j.resource
	j.mu.Unlock()

	if resource.ProcessingStatus != api.BatchEnded {
		return errors.Errorf("batch %s has not ended (status %s)", resource.ID, resource.ProcessingStatus)
	}

	body, err := j.client.OpenBatchResults(ctx, resource)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	decoder := json.NewDecoder(body)
	for decoder.More() {
		var result api.BatchResult
		if err := decoder.Decode(&result); err != nil {
			return errors.Wrap(err, "failed to decode batch result line")
		}
		if !j.submittedIDs[result.CustomID] {
			return errors.Errorf("results contain unknown custom_id %q", result.CustomID)
		}
		if err := fn(result); err != nil {
			return err
		}
	}
	return nil
}

// ResultsMap collects all results keyed by custom id.
func (j *Job) ResultsMap(ctx context.Context) (map[string]api.BatchOutcome, error) {
	ret := make(map[string]api.BatchOutcome, j.numRequests)
	err := j.Results(ctx, func(r api.BatchResult) error {
		if _, dup := ret[r.CustomID]; dup {
			return errors.Errorf("results contain duplicate custom_id %q", r.CustomID)
		}
		ret[r.CustomID] = r.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
