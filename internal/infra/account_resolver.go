package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offramp_go/internal/domain"
)

// verifyAccountResponse mirrors the bank-resolution API's envelope.
type verifyAccountResponse struct {
	Data struct {
		Attributes struct {
			AccountName string `json:"accountName"`
		} `json:"attributes"`
	} `json:"data"`
}

// HTTPAccountResolver resolves account names through a NUBAN lookup API.
type HTTPAccountResolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPAccountResolver creates a resolver for baseURL.
func NewHTTPAccountResolver(baseURL, apiKey string) *HTTPAccountResolver {
	return &HTTPAccountResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default().With(slog.String("module", "account_resolver")),
	}
}

// ResolveAccount returns the holder name for bankCode/accountNumber.
func (r *HTTPAccountResolver) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	endpoint := fmt.Sprintf("%s/verify-account/%s/%s", r.baseURL, url.PathEscape(bankCode), url.PathEscape(accountNumber))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", domain.NewFatalNetworkError("resolve_account", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", DefaultUserAgent)
	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("resolve_account", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("Account resolution rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("bank_code", bankCode),
		)
		statusErr := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return "", domain.NewNetworkError("resolve_account", statusErr)
		}
		return "", domain.NewFatalNetworkError("resolve_account", statusErr)
	}

	var data verifyAccountResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", domain.NewFatalNetworkError("resolve_account", fmt.Errorf("malformed response: %w", err))
	}
	name := strings.TrimSpace(data.Data.Attributes.AccountName)
	if name == "" {
		return "", domain.NewFatalNetworkError("resolve_account", errors.New("empty account name"))
	}
	return name, nil
}

// MockAccountResolver answers lookups locally for demos and tests.
// "0123456789" resolves to a fixed name, any other 10-digit number to "JOHN DOE".
type MockAccountResolver struct{}

func (MockAccountResolver) ResolveAccount(ctx context.Context, _ string, accountNumber string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if accountNumber == "0123456789" {
		return "CHUKWUEMEKA OKAFOR", nil
	}
	if domain.ValidAccountNumber(accountNumber) {
		return "JOHN DOE", nil
	}
	return "", errors.New("invalid account number or verification failed")
}
