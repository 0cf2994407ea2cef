package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	core "synapse-ng/core"
)

// apiClient is a thin HTTP client against a running node's API (§6). Every
// CLI subcommand is a cobra.Command whose RunE builds a request through this
// client and prints the decoded JSON response, the same shape as the
// teacher's dao.go commands but talking over HTTP instead of calling core
// functions directly, since a Synapse-NG node is a long-running daemon.
//
// identity is the CLI's own Ed25519 keypair (§6 "all mutations require node
// signature on the request body"): every request carries X-Node-Id and an
// X-Signature computed over the exact bytes sent as the body, verified
// server-side the same way the gossip transport verifies envelope senders.
type apiClient struct {
	baseURL  string
	identity *core.Identity
	http     *http.Client
}

func newAPIClient(baseURL string, identity *core.Identity) *apiClient {
	return &apiClient{baseURL: baseURL, identity: identity, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(method, path string, body any) (map[string]any, error) {
	var data []byte
	var reader io.Reader
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.identity != nil {
		req.Header.Set("X-Node-Id", c.identity.ID)
		req.Header.Set("X-Signature", hex.EncodeToString(c.identity.Sign(data)))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("request failed: %s (status %d)", out["error"], resp.StatusCode)
	}
	return out, nil
}
