package infra

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"offramp_go/internal/domain"

	"github.com/disintegration/imaging"
)

// LogoSize is the edge length bank logos are stored at.
const LogoSize = 48

// LogoCache downloads bank logos once and keeps resized copies on disk.
type LogoCache struct {
	basePath string
	client   *http.Client
}

// NewLogoCache creates a cache rooted at basePath.
func NewLogoCache(basePath string) (*LogoCache, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logo directory: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &LogoCache{
		basePath: basePath,
		client:   &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}, nil
}

// Fetch downloads the bank's logo if it isn't cached and returns the local path.
func (c *LogoCache) Fetch(ctx context.Context, bank domain.Bank) (string, error) {
	filePath, err := c.Path(bank.Code)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}
	if bank.LogoURL == "" {
		return "", fmt.Errorf("bank %s has no logo url", bank.Code)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bank.LogoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	src, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	resized := imaging.Fit(src, LogoSize, LogoSize, imaging.Lanczos)
	if err := imaging.Save(resized, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	return filePath, nil
}

// Load returns the cached logo for a bank code, or nil when it isn't cached.
func (c *LogoCache) Load(bankCode string) image.Image {
	filePath, err := c.Path(bankCode)
	if err != nil {
		return nil
	}
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil
	}
	return img
}

// Path returns the local path for a bank code's logo.
func (c *LogoCache) Path(bankCode string) (string, error) {
	safe := sanitizeCode(bankCode)
	if safe == "" {
		return "", fmt.Errorf("invalid bank code: %q", bankCode)
	}
	return filepath.Join(c.basePath, safe+".png"), nil
}

func sanitizeCode(code string) string {
	res := make([]rune, 0, len(code))
	for _, r := range code {
		if r >= '0' && r <= '9' {
			res = append(res, r)
		}
	}
	return string(res)
}
