// Package cli assembles catalogctl's root Cobra command and the HTTP
// client its subcommands use to talk to a running catalogd.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/flowforge/catalog/pkg/catalog/httpclient"
)

// BaseURL returns the catalogd control-plane URL, from
// CATALOGD_URL or a localhost default.
func BaseURL() string {
	if v := os.Getenv("CATALOGD_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}

// Request issues an HTTP request against catalogd and decodes a JSON
// response into out (when non-nil). A non-2xx response is returned as
// an error carrying the response body.
func Request(method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, BaseURL()+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := os.Getenv("CATALOGD_API_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "catalogctl/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("catalogd returned %s: %s", resp.Status, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
