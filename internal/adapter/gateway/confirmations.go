package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RPCConfirmationSource implements ports.ConfirmationSource against per-network
// indexer endpoints.
type RPCConfirmationSource struct {
	endpoints map[string]string // network -> base URL
	client    *http.Client
}

// NewRPCConfirmationSource creates a confirmation source. endpoints maps a
// network name (TRON, ETHEREUM, ...) to its indexer base URL; networks
// without an endpoint report an error and the caller falls back to the
// callback-reported count.
func NewRPCConfirmationSource(endpoints map[string]string, timeout time.Duration) *RPCConfirmationSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCConfirmationSource{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}
}

// Confirmations returns the current confirmation count for txHash on network.
func (s *RPCConfirmationSource) Confirmations(ctx context.Context, network, txHash string) (int, error) {
	base, ok := s.endpoints[network]
	if !ok {
		return 0, fmt.Errorf("no indexer configured for network %s", network)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/tx/"+url.PathEscape(txHash), nil)
	if err != nil {
		return 0, fmt.Errorf("build indexer request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query indexer: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("indexer returned %d for %s", resp.StatusCode, txHash)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("read indexer response: %w", err)
	}

	var payload struct {
		Confirmations int `json:"confirmations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode indexer response: %w", err)
	}
	return payload.Confirmations, nil
}
