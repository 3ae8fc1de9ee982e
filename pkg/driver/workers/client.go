// Package workers implements the built-in sync workers.
//
// Each worker talks to one downstream service over its REST API and is
// configured through a driver option group in the config file. Workers
// register themselves at init; cmd/foundry blank-imports this package.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/foundry/pkg/errdefs"
)

// clientOptions is the common shape of a worker's config group.
type clientOptions struct {
	Endpoint       string `yaml:"endpoint"`
	AuthToken      string `yaml:"auth_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// restClient is a minimal JSON REST client shared by the workers.
type restClient struct {
	base  string
	token string
	http  *http.Client
}

func newRESTClient(opts clientOptions) *restClient {
	if opts.Endpoint == "" {
		return nil
	}
	timeout := 30 * time.Second
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	return &restClient{
		base:  strings.TrimRight(opts.Endpoint, "/"),
		token: opts.AuthToken,
		http:  &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx response from the downstream service.
type apiError struct {
	Service string
	Status  int
	Body    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s responded with HTTP %d: %s", e.Service, e.Status, e.Body)
}

func isStatus(err error, status int) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == status
	}
	return false
}

// do issues one request and decodes a JSON response into out when non-nil.
// Transport failures wrap ErrUnavailable so the reconciler records them as
// retryable; non-2xx statuses come back as *apiError.
func (c *restClient) do(ctx context.Context, service, method, path string, body, out any) error {
	return c.doWith(ctx, service, method, path, "application/json", body, out)
}

// doWith is do with an explicit request content type, for APIs that
// dispatch on it (e.g. Kubernetes merge patches).
func (c *restClient) doWith(ctx context.Context, service, method, path, contentType string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not contact %s: %v: %w", service, err, errdefs.ErrUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("could not read %s response: %v: %w", service, err, errdefs.ErrUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Service: service, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s response malformed: %v", service, err)
		}
	}
	return nil
}

func notConfigured(name string) error {
	return errdefs.InvalidParameterValue("the %s driver has no endpoint configured", name)
}
