package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/yeremiapane/pos-backend/utils"
)

const maxResponseBody = 1 << 20

// downstream calls another service's JSON API. Every call is bounded by the
// client timeout; transport failures, timeouts, 5xx answers and bodies that
// are not the shared envelope all become DownstreamUnavailable. 4xx answers
// carry the remote error kind back unchanged.
type downstream struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func newDownstream(name, baseURL string, timeout time.Duration) downstream {
	return downstream{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type envelope struct {
	Status  string                 `json:"status"`
	Kind    utils.ErrorKind        `json:"kind"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail"`
	Data    json.RawMessage        `json:"data"`
}

func (d downstream) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return utils.NewInternal(fmt.Errorf("error marshaling request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return utils.NewInternal(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logFailure(method, path, 0, start, err)
		return utils.NewDownstreamUnavailable(d.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.logFailure(method, path, resp.StatusCode, start, err)
		return utils.NewDownstreamUnavailable(d.name, fmt.Errorf("error reading response: %w", err))
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	decodeErr := dec.Decode(&env)

	if resp.StatusCode >= http.StatusInternalServerError {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, env.Message)
		d.logFailure(method, path, resp.StatusCode, start, err)
		return utils.NewDownstreamUnavailable(d.name, err)
	}
	if decodeErr != nil {
		err := fmt.Errorf("status %d with undecodable body: %w", resp.StatusCode, decodeErr)
		d.logFailure(method, path, resp.StatusCode, start, err)
		return utils.NewDownstreamUnavailable(d.name, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if env.Kind == "" {
			err := fmt.Errorf("status %d without error kind", resp.StatusCode)
			d.logFailure(method, path, resp.StatusCode, start, err)
			return utils.NewDownstreamUnavailable(d.name, err)
		}
		return &utils.AppError{Kind: env.Kind, Message: env.Message, Detail: env.Detail}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			d.logFailure(method, path, resp.StatusCode, start, err)
			return utils.NewDownstreamUnavailable(d.name, fmt.Errorf("error decoding data: %w", err))
		}
	}
	return nil
}

func (d downstream) logFailure(method, path string, status int, start time.Time, err error) {
	utils.ErrorLogger.WithFields(logrus.Fields{
		"downstream": d.name,
		"method":     method,
		"path":       path,
		"status":     status,
		"latency":    time.Since(start).String(),
	}).Warnf("downstream call failed: %v", err)
}
