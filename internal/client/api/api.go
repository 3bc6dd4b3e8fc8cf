// Package api calls the practice backend's run, submit, review and status endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	httpclient "practiceoj/internal/cli/http"
	"practiceoj/internal/workspace/outcome"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/response"
)

const (
	runPath        = "/api/v1/run"
	submissionPath = "/api/v1/submissions"
	reviewPath     = "/api/v1/reviews"
	problemPath    = "/api/v1/problems/"

	idempotencyKeyHeader = "Idempotency-Key"
)

// RunRequest executes code against ad hoc input.
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin"`
}

// SubmitRequest submits a solution for judging. ClientID is echoed back on push events.
type SubmitRequest struct {
	ProblemID string `json:"problemId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	ClientID  string `json:"clientId"`
}

// ReviewRequest asks for an AI review of a submission.
type ReviewRequest struct {
	ProblemID    string `json:"problemId"`
	Code         string `json:"code"`
	Language     string `json:"language"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// ProblemStatus is the server's authoritative solved flag.
type ProblemStatus struct {
	ProblemID string `json:"problemId"`
	Solved    bool   `json:"solved"`
}

type reviewResponse struct {
	ReviewID string `json:"reviewId"`
}

// Client is the backend HTTP contract used by the coordinator.
type Client struct {
	http *httpclient.Client
}

func New(c *httpclient.Client) *Client {
	return &Client{http: c}
}

// RunCode returns the raw run payload.
func (c *Client) RunCode(ctx context.Context, req RunRequest) (outcome.Payload, error) {
	data, err := c.call(ctx, http.MethodPost, runPath, nil, req)
	if err != nil {
		return outcome.Payload{}, err
	}
	return outcome.ParsePayload(data)
}

// SubmitSolution returns the raw submit payload. The verdict may be Processing.
func (c *Client) SubmitSolution(ctx context.Context, req SubmitRequest) (outcome.Payload, error) {
	headers := map[string]string{idempotencyKeyHeader: req.ClientID}
	data, err := c.call(ctx, http.MethodPost, submissionPath, headers, req)
	if err != nil {
		return outcome.Payload{}, err
	}
	p, err := outcome.ParsePayload(data)
	if err != nil {
		return p, err
	}
	if p.ClientID == "" {
		p.ClientID = req.ClientID
	}
	return p, nil
}

// RequestReview schedules an AI review and returns its id.
func (c *Client) RequestReview(ctx context.Context, req ReviewRequest) (string, error) {
	data, err := c.call(ctx, http.MethodPost, reviewPath, nil, req)
	if err != nil {
		return "", err
	}
	var resp reviewResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", appErr.Wrapf(err, appErr.MalformedResponse, "decode review response failed")
	}
	return resp.ReviewID, nil
}

// ProblemStatus reads the server's solved flag for a problem.
func (c *Client) ProblemStatus(ctx context.Context, problemID string) (ProblemStatus, error) {
	data, err := c.call(ctx, http.MethodGet, problemPath+url.PathEscape(problemID)+"/status", nil, nil)
	if err != nil {
		return ProblemStatus{}, err
	}
	var st ProblemStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return st, appErr.Wrapf(err, appErr.MalformedResponse, "decode problem status failed")
	}
	if st.ProblemID == "" {
		st.ProblemID = problemID
	}
	return st, nil
}

// call sends a request and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method, path string, headers map[string]string, body interface{}) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidParams, "encode request failed")
		}
	}
	info, err := c.http.Do(ctx, method, path, headers, payload)
	if err != nil {
		return nil, err
	}

	env, err := response.Decode(info.Body)
	if err != nil {
		if info.StatusCode < 200 || info.StatusCode >= 300 {
			return nil, appErr.Newf(appErr.UnexpectedStatus, "%s %s returned status %d", method, path, info.StatusCode)
		}
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	if info.StatusCode < 200 || info.StatusCode >= 300 {
		return nil, appErr.Newf(appErr.UnexpectedStatus, "%s %s returned status %d", method, path, info.StatusCode)
	}
	return env.Data, nil
}
