package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is a thin JSON client for the network service's REST API.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPClient(endpoint, token string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) ListRouters(ctx context.Context, tenantID string) ([]Router, error) {
	query := url.Values{}
	if tenantID != "" {
		query.Set("tenant_id", tenantID)
	}
	var payload struct {
		Routers []Router `json:"routers"`
	}
	if err := c.get(ctx, "/v2.0/routers", query, &payload); err != nil {
		return nil, err
	}
	return payload.Routers, nil
}

func (c *HTTPClient) ListNetworks(ctx context.Context) ([]Network, error) {
	var payload struct {
		Networks []Network `json:"networks"`
	}
	if err := c.get(ctx, "/v2.0/networks", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Networks, nil
}

func (c *HTTPClient) ListSubnets(ctx context.Context, networkID string) ([]Subnet, error) {
	query := url.Values{}
	if networkID != "" {
		query.Set("network_id", networkID)
	}
	var payload struct {
		Subnets []Subnet `json:"subnets"`
	}
	if err := c.get(ctx, "/v2.0/subnets", query, &payload); err != nil {
		return nil, err
	}
	return payload.Subnets, nil
}

func (c *HTTPClient) ListPorts(ctx context.Context, deviceID string) ([]Port, error) {
	query := url.Values{}
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}
	var payload struct {
		Ports []Port `json:"ports"`
	}
	if err := c.get(ctx, "/v2.0/ports", query, &payload); err != nil {
		return nil, err
	}
	return payload.Ports, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	request.Header.Set("X-Auth-Token", c.token)

	response, err := c.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("network service returned status %d for %s", response.StatusCode, path)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
