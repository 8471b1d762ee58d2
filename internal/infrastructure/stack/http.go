package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is a thin JSON client for the orchestrator's REST API.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPClient builds a client for the given endpoint. The token rides in
// the X-Auth-Token header of every request.
func NewHTTPClient(endpoint, token string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type stackEnvelope struct {
	Stack struct {
		Name       string         `json:"stack_name"`
		Status     string         `json:"stack_status"`
		Parameters map[string]any `json:"parameters"`
		Template   map[string]any `json:"template"`
		Outputs    []struct {
			Key   string `json:"output_key"`
			Value any    `json:"output_value"`
		} `json:"outputs"`
	} `json:"stack"`
}

func (c *HTTPClient) Get(ctx context.Context, name string) (*Stack, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/stacks/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("orchestrator returned status %d for stack %s", status, name)
	}
	var envelope stackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("cannot decode stack %s: %w", name, err)
	}
	outputs := map[string]any{}
	for _, output := range envelope.Stack.Outputs {
		outputs[output.Key] = output.Value
	}
	return &Stack{
		Name:       envelope.Stack.Name,
		Status:     envelope.Stack.Status,
		Parameters: envelope.Stack.Parameters,
		Template:   envelope.Stack.Template,
		Outputs:    outputs,
	}, nil
}

func (c *HTTPClient) Create(ctx context.Context, name string, template, parameters map[string]any) error {
	payload := map[string]any{
		"stack_name":       name,
		"template":         template,
		"parameters":       parameters,
		"disable_rollback": false,
	}
	_, status, err := c.do(ctx, http.MethodPost, "/stacks", payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK && status != http.StatusAccepted {
		return fmt.Errorf("orchestrator returned status %d creating stack %s", status, name)
	}
	return nil
}

func (c *HTTPClient) Update(ctx context.Context, name string, template, parameters map[string]any) error {
	payload := map[string]any{
		"template":   template,
		"parameters": parameters,
	}
	_, status, err := c.do(ctx, http.MethodPut, "/stacks/"+url.PathEscape(name), payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return fmt.Errorf("orchestrator returned status %d updating stack %s", status, name)
	}
	return nil
}

func (c *HTTPClient) Delete(ctx context.Context, name string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/stacks/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusAccepted {
		return fmt.Errorf("orchestrator returned status %d deleting stack %s", status, name)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, 0, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Auth-Token", c.token)

	response, err := c.client.Do(request)
	if err != nil {
		return nil, 0, err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, response.StatusCode, nil
}
