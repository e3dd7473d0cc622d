package deimos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RPCProbe tests whether the client answers on its JSON-RPC control interface.
type RPCProbe struct {
	endpoint string
	client   *http.Client
}

func NewRPCProbe(endpoint string, timeout time.Duration) *RPCProbe {
	return &RPCProbe{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Check issues net_listening. Only reachability matters: any well-formed
// JSON-RPC reply without an error counts as healthy.
func (p *RPCProbe) Check(ctx context.Context) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "net_listening", Params: []any{}, ID: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProbeUnavailable, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProbeUnavailable, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", ErrProbeUnavailable, rr.Error.Code, rr.Error.Message)
	}
	return nil
}

func (p *RPCProbe) IsHealthy(ctx context.Context) bool {
	return p.Check(ctx) == nil
}
