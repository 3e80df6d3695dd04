package zk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Prover generates a zero-knowledge proof over assembled inputs. The
// backend treats the returned calldata opaquely.
type Prover interface {
	GenerateProof(ctx context.Context, inputs *ProofInputs) ([]string, error)
}

// HTTPProver calls an external proving service over HTTP
type HTTPProver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProver creates a prover client for the given endpoint
func NewHTTPProver(endpoint string, timeout time.Duration) *HTTPProver {
	return &HTTPProver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type proveResponse struct {
	Calldata []string `json:"calldata"`
	Error    string   `json:"error,omitempty"`
}

// GenerateProof posts the padded inputs to the proving service and returns
// the verifier calldata it produced
func (p *HTTPProver) GenerateProof(ctx context.Context, inputs *ProofInputs) ([]string, error) {
	body, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encoding proof inputs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/prove", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building prover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling prover: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading prover response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prover returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded proveResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding prover response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("prover error: %s", decoded.Error)
	}
	if len(decoded.Calldata) == 0 {
		return nil, fmt.Errorf("prover returned empty calldata")
	}

	return decoded.Calldata, nil
}
