// Copyright 2023 The TrainDB-ML Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// maxErrorBody bounds the response body quoted in errors.
const maxErrorBody = 512

type predictRequest struct {
	Instances any `json:"instances"`
}

type predictResponse struct {
	Predictions []any `json:"predictions"`
}

// Predictor sends KServe v1 prediction requests for one model.
type Predictor struct {
	endpoint  string
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	batchSize int
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithHTTPClient sets the HTTP client. A nil client keeps the default.
func WithHTTPClient(c *http.Client) PredictorOption {
	return func(p *Predictor) {
		p.client = c
	}
}

// WithTimeout sets the timeout of each request. The configured client is
// copied, not modified.
func WithTimeout(d time.Duration) PredictorOption {
	return func(p *Predictor) {
		p.timeout = d
	}
}

// WithRateLimit limits requests to qps with the given burst.
func WithRateLimit(qps float64, burst int) PredictorOption {
	return func(p *Predictor) {
		if qps > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(qps), burst)
		}
	}
}

// WithBatchSize splits instances into requests of at most n instances.
func WithBatchSize(n int) PredictorOption {
	return func(p *Predictor) {
		p.batchSize = n
	}
}

// NewPredictor returns a Predictor for model served at baseURL.
func NewPredictor(baseURL, model string, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/models/" + url.PathEscape(model) + ":predict",
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: defaults.PredictTimeout}
	}
	if p.timeout > 0 {
		c := *p.client
		c.Timeout = p.timeout
		p.client = &c
	}
	return p
}

// Predictor returns a Predictor for the model server endpoint.
func (m ModelServer) Predictor(opts ...PredictorOption) *Predictor {
	return NewPredictor(m.ModelURI, m.ModelName, opts...)
}

// Endpoint returns the prediction URL.
func (p *Predictor) Endpoint() string {
	return p.endpoint
}

// Predict sends instances and returns the predictions in order. instances
// must be a slice.
func (p *Predictor) Predict(ctx context.Context, instances any) ([]any, error) {
	v := reflect.ValueOf(instances)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "instances must be a list")
	}

	n := v.Len()
	size := p.batchSize
	if size <= 0 || size > n {
		size = n
	}
	if size == 0 {
		return []any{}, nil
	}

	out := make([]any, 0, n)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		preds, err := p.send(ctx, v.Slice(start, end).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, preds...)
	}
	return out, nil
}

func (p *Predictor) send(ctx context.Context, instances any) ([]any, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeTimeout, "rate limiter wait canceled", err)
	}

	body, err := json.Marshal(predictRequest{Instances: instances})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to encode instances", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeUnavailable, "prediction request failed", err,
			map[string]any{"endpoint": p.endpoint})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.NewWithContext(statusCode(resp.StatusCode),
			fmt.Sprintf("prediction failed with status %d", resp.StatusCode),
			map[string]any{"endpoint": p.endpoint, "body": strings.TrimSpace(string(snippet))})
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to decode prediction response", err)
	}
	if pr.Predictions == nil {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeInternal, "response has no predictions",
			map[string]any{"endpoint": p.endpoint})
	}
	return pr.Predictions, nil
}

func statusCode(status int) apperrors.ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.ErrCodeTimeout
	case status >= 500 || status == http.StatusTooManyRequests:
		return apperrors.ErrCodeUnavailable
	default:
		return apperrors.ErrCodeInvalidRequest
	}
}
