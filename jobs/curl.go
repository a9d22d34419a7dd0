package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/quintans/dig-scheduler/scheduler"
)

const CurlType = "curl"

// maxResultSize caps the response body kept as the execution result.
const maxResultSize = 64 * 1024

// CurlRequest is the payload of a curl trigger.
type CurlRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CurlJob sends the HTTP request described by the trigger payload.
// Responses with a status code of 400 or above fail the execution.
type CurlJob struct {
	client *http.Client
	logger scheduler.Logger
}

func NewCurlJob(client *http.Client, logger scheduler.Logger) *CurlJob {
	return &CurlJob{
		client: client,
		logger: logger,
	}
}

func (cu *CurlJob) Execute(ctx context.Context, jec *scheduler.JobExecutionContext) error {
	var creq CurlRequest
	if err := json.Unmarshal(jec.Payload(), &creq); err != nil {
		return fmt.Errorf("invalid curl payload for job '%s': %w", jec.JobDetail().Key, err)
	}
	if creq.URL == "" {
		return fmt.Errorf("missing url for job '%s': %w", jec.JobDetail().Key, scheduler.ErrInvalidArgument)
	}
	if creq.Method == "" {
		creq.Method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, creq.Method, creq.URL, bytes.NewBufferString(creq.Body))
	if err != nil {
		return fmt.Errorf("failed to create request for job '%s': %w", jec.JobDetail().Key, err)
	}
	for k, v := range creq.Headers {
		req.Header.Set(k, v)
	}

	res, err := cu.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResultSize))
	if err != nil {
		return fmt.Errorf("failed to read response of %s %s: %w", creq.Method, creq.URL, err)
	}
	result := fmt.Sprintf("%d\n%s", res.StatusCode, body)
	cu.logger.Debug("job '%s' got %d from %s %s", jec.JobDetail().Key, res.StatusCode, creq.Method, creq.URL)

	if res.StatusCode >= http.StatusBadRequest {
		return errors.New(result)
	}
	jec.SetResult(result)
	return nil
}
