// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianBandit/services/bandit"
)

// apiClient is a thin HTTP client for the bandit API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do issues one request and decodes the response into out. Non-2xx
// responses are returned as errors carrying the server's error code.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr bandit.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) listExperiments(ctx context.Context) ([]bandit.ExperimentResponse, error) {
	var resp struct {
		Experiments []bandit.ExperimentResponse `json:"experiments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/bandit/experiments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Experiments, nil
}

func (c *apiClient) createExperiment(ctx context.Context, req bandit.CreateExperimentRequest) (bandit.ExperimentResponse, error) {
	var resp bandit.ExperimentResponse
	err := c.do(ctx, http.MethodPost, "/v1/bandit/experiments", req, &resp)
	return resp, err
}

func (c *apiClient) selectArm(ctx context.Context, req bandit.SelectRequest) (bandit.SelectResponse, error) {
	var resp bandit.SelectResponse
	err := c.do(ctx, http.MethodPost, "/v1/bandit/select", req, &resp)
	return resp, err
}

func (c *apiClient) reward(ctx context.Context, req bandit.RewardRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/bandit/reward", req, nil)
}

func (c *apiClient) evaluate(ctx context.Context, experimentID string) (bandit.StoppingEvaluation, error) {
	var resp bandit.StoppingEvaluation
	err := c.do(ctx, http.MethodPost, "/v1/bandit/experiments/"+experimentID+"/evaluate", nil, &resp)
	return resp, err
}

func (c *apiClient) snapshot(ctx context.Context, experimentID string) (bandit.SnapshotResponse, error) {
	var resp bandit.SnapshotResponse
	err := c.do(ctx, http.MethodGet, "/v1/bandit/experiments/"+experimentID+"/snapshot", nil, &resp)
	return resp, err
}
