// Package judge talks to the external code-execution service. Running the
// submitted code is entirely the service's problem; this package only carries
// the request over and normalizes the verdict.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrUnavailable = errors.New("judge service unavailable")

// Result is the normalized verdict for one submission.
type Result struct {
	Passed      int `json:"passed"`
	Total       int `json:"totalTestCases"`
	ExecutionMs int `json:"executionTimeMs"`
}

// HTTPClient submits code to the execution service over HTTP.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	ProblemID string `json:"problemId"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

type evaluateResponse struct {
	Passed      int    `json:"passed"`
	Total       int    `json:"totalTestCases"`
	ExecutionMs int    `json:"executionTimeMs"`
	Error       string `json:"error,omitempty"`
}

// Evaluate runs code against the stored problem's test cases.
func (c *HTTPClient) Evaluate(ctx context.Context, problemID, language, code string) (Result, error) {
	if c.url == "" {
		return Result{}, fmt.Errorf("%w: no judge endpoint configured", ErrUnavailable)
	}
	body, err := json.Marshal(evaluateRequest{ProblemID: problemID, Language: language, Code: code})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("judge rejected submission: %s", out.Error)
	}
	return Result{Passed: out.Passed, Total: out.Total, ExecutionMs: out.ExecutionMs}, nil
}
