package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// defaultSyncTimeout bounds one downstream sync call
const defaultSyncTimeout = 2 * time.Minute

/* HTTPProvider forwards sync commands to the downstream sync engine
 * The gateway never talks to bank APIs itself; it triggers the service
 * that does
 */
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider calling the sync engine at baseURL
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultSyncTimeout,
		},
	}
}

// syncResult is the engine's response body
type syncResult struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// SyncAccount triggers a sync for the account and waits for its summary
func (p *HTTPProvider) SyncAccount(ctx context.Context, accountID string) (Result, error) {
	endpoint := fmt.Sprintf("%s/sync/%s", p.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building sync request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling sync engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Result{}, fmt.Errorf("sync engine returned %d for account %s", resp.StatusCode, accountID)
	}

	var body syncResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decoding sync result: %w", err)
	}

	return Result{
		AccountID:   accountID,
		Added:       body.Added,
		Modified:    body.Modified,
		Removed:     body.Removed,
		CompletedAt: time.Now(),
	}, nil
}
