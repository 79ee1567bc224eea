package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CloudClient is the scheduler's outbound view of cloud ingest service K
// (§6): POST sensor registrations and batch payloads, reading back the
// confirmation field that drives the local ack flip.
type CloudClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewCloudClient builds a client bound to K's base URL and the
// producer's API key.
func NewCloudClient(baseURL, apiKey string, httpClient *http.Client) *CloudClient {
	return &CloudClient{baseURL: baseURL, apiKey: apiKey, http: httpClient}
}

type confirmationResponse struct {
	ConfermaRicezione bool `json:"conferma_ricezione"`
}

// RegisterSensor POSTs a sensor registration and reports whether the
// cloud confirmed receipt (§6: conferma_ricezione=true).
func (c *CloudClient) RegisterSensor(ctx context.Context, id, description string) (bool, error) {
	body := map[string]string{"id_sensore": id, "descrizione": description}
	var resp confirmationResponse
	if err := c.postJSON(ctx, "/sensori", body, &resp); err != nil {
		return false, err
	}
	return resp.ConfermaRicezione, nil
}

// DeliverBatch POSTs a batch payload and reports cloud confirmation.
func (c *CloudClient) DeliverBatch(ctx context.Context, payloadJSON string) (bool, error) {
	var resp confirmationResponse
	if err := c.postRaw(ctx, "/batch", []byte(payloadJSON), &resp); err != nil {
		return false, err
	}
	return resp.ConfermaRicezione, nil
}

func (c *CloudClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("scheduler: marshal request: %w", err)
	}
	return c.postRaw(ctx, path, raw, out)
}

func (c *CloudClient) postRaw(ctx context.Context, path string, raw []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("scheduler: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler: %s: unexpected status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("scheduler: %s: decode response: %w", path, err)
		}
	}
	return nil
}
