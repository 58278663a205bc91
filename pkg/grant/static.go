package grant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

// StaticMinter returns unsigned URLs under a base URL. For development and tests only.
type StaticMinter struct {
	base *url.URL
	now  func() time.Time
}

// NewStaticMinter creates a static minter rooted at baseURL
func NewStaticMinter(baseURL string) (*StaticMinter, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}
	return &StaticMinter{base: u, now: time.Now}, nil
}

// MintGrant implements Minter
func (m *StaticMinter) MintGrant(ctx context.Context, storageHandle string, ttl time.Duration) (*entitlement.AccessGrant, error) {
	if err := validate(storageHandle, ttl); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expiresAt := m.now().Add(ttl)
	u := m.base.JoinPath(strings.Split(strings.TrimPrefix(storageHandle, "/"), "/")...)
	q := u.Query()
	q.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	u.RawQuery = q.Encode()

	return &entitlement.AccessGrant{URL: u.String(), ExpiresAt: expiresAt}, nil
}
