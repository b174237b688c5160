package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/cryptolock/core"
)

const defaultMoneroTimeout = 10 * time.Second

// MoneroConfig points the verifier at a monero-wallet-rpc instance
type MoneroConfig struct {
	Chain    MoneroChain
	Protocol string // http or https
	Host     string // host:port
	User     string
	Password string
	Timeout  time.Duration
	Client   *http.Client
}

// Monero delegates signature checks to the wallet RPC "verify" method
// and validates addresses locally.
type Monero struct {
	chain    MoneroChain
	prefixes moneroPrefixes
	endpoint string
	user     string
	password string
	client   *http.Client
}

// NewMonero creates a Monero verifier
func NewMonero(cfg MoneroConfig) (*Monero, error) {
	prefixes, ok := moneroChains[cfg.Chain]
	if !ok {
		return nil, fmt.Errorf("unknown monero chain %q", cfg.Chain)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("monero wallet rpc host is required")
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "http" && protocol != "https" {
		return nil, fmt.Errorf("unsupported monero wallet rpc protocol %q", protocol)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultMoneroTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Monero{
		chain:    cfg.Chain,
		prefixes: prefixes,
		endpoint: protocol + "://" + strings.TrimSuffix(cfg.Host, "/") + "/json_rpc",
		user:     cfg.User,
		password: cfg.Password,
		client:   client,
	}, nil
}

// ValidateAddress checks the base58 encoding, checksum and network prefix
func (m *Monero) ValidateAddress(address string) error {
	return validateMoneroAddress(address, m.prefixes)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type verifyParams struct {
	Data      string `json:"data"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type verifyResponse struct {
	Result *struct {
		Good bool `json:"good"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// Verify asks the wallet whether signature was produced by address over the
// external challenge. Transport failures, RPC errors and unexpected replies
// are reported as ErrVerificationBackendUnavailable.
func (m *Monero) Verify(ctx context.Context, req core.VerifyRequest) (bool, error) {
	if !boundToIssuer(req) {
		return false, nil
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "0",
		Method:  "verify",
		Params: verifyParams{
			Data:      req.Challenge,
			Address:   req.Address,
			Signature: req.Signature,
		},
	})
	if err != nil {
		return false, fmt.Errorf("%w: encode request: %v", core.ErrVerificationBackendUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrVerificationBackendUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.user != "" || m.password != "" {
		httpReq.SetBasicAuth(m.user, m.password)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrVerificationBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("%w: wallet rpc returned %s", core.ErrVerificationBackendUnavailable, resp.Status)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", core.ErrVerificationBackendUnavailable, err)
	}
	if out.Error != nil {
		return false, fmt.Errorf("%w: wallet rpc error %d: %s",
			core.ErrVerificationBackendUnavailable, out.Error.Code, out.Error.Message)
	}
	if out.Result == nil {
		return false, fmt.Errorf("%w: empty wallet rpc result", core.ErrVerificationBackendUnavailable)
	}
	return out.Result.Good, nil
}
