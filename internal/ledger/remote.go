package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"RecurLedger/internal/model"
)

// RemoteWriter posts transactions to the ledger service REST API.
type RemoteWriter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRemoteWriter creates a writer with optional proxy support.
func NewRemoteWriter(baseURL, apiKey, proxyURL string, timeout time.Duration) *RemoteWriter {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteWriter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Append sends one draft. Any non-2xx answer is a LedgerWriteError; the
// call is not retried.
func (w *RemoteWriter) Append(ctx context.Context, draft *model.TransactionDraft) (string, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("marshal draft: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/api/transactions", bytes.NewReader(body))
	if err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if w.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.APIKey)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("send transaction: %w", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("ledger API error: status %d, body: %s", resp.StatusCode, string(respBody))}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.ID == "" {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("ledger API returned no transaction id")}
	}
	return result.ID, nil
}
