package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-settlement-core/pkg/apperror"
)

// apiResponse is the envelope every gateway endpoint answers with.
type apiResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const apiCodeOK = "OK"

// apiClient posts signed JSON requests to a gateway endpoint and unwraps the
// response envelope. Transport faults come back retryable; business
// rejections come back terminal.
type apiClient struct {
	endpoint string
	secret   string
	http     *http.Client
}

func newAPIClient(endpoint, secret string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) post(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	params[signFieldName] = sign(params, c.secret)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal gateway request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build gateway request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.ErrGatewayUnavailable(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.ErrGatewayUnavailable(err)
	}

	if resp.StatusCode >= 500 {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.ErrGatewayRejected(fmt.Sprintf("gateway returned %d", resp.StatusCode))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("decode gateway response: %w", err))
	}
	if envelope.Code != apiCodeOK {
		return nil, apperror.ErrGatewayRejected(fmt.Sprintf("%s: %s", envelope.Code, envelope.Message))
	}
	return envelope.Data, nil
}
