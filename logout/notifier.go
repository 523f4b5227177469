package logout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks -source=notifier.go BackchannelLogoutNotifier

// LogoutNotification is one logout_token addressed to one client.
type LogoutNotification struct {
	ClientID    string
	URI         string
	LogoutToken string
}

// BackchannelLogoutNotifier delivers logout tokens to relying parties.
type BackchannelLogoutNotifier interface {
	SendLogoutNotification(ctx context.Context, n LogoutNotification) error
}

// HTTPBackchannelLogoutNotifier posts the logout_token form parameter as described in OpenID
// Connect Back-Channel Logout 1.0 section 2.5.
type HTTPBackchannelLogoutNotifier struct {
	client   *http.Client
	maxTries uint
}

// NewHTTPBackchannelLogoutNotifier creates a notifier. A nil client uses one with timeout.
func NewHTTPBackchannelLogoutNotifier(client *http.Client, timeout time.Duration) *HTTPBackchannelLogoutNotifier {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPBackchannelLogoutNotifier{client: client, maxTries: 3}
}

// SendLogoutNotification posts the token. 5xx responses and transport errors are retried with
// exponential backoff; 4xx responses are final.
func (n *HTTPBackchannelLogoutNotifier) SendLogoutNotification(ctx context.Context, ln LogoutNotification) error {
	body := url.Values{"logout_token": {ln.LogoutToken}}.Encode()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ln.URI, strings.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Cache-Control", "no-store")

		resp, err := n.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("back-channel logout to %s returned %d", ln.ClientID, resp.StatusCode)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("back-channel logout to %s returned %d", ln.ClientID, resp.StatusCode))
		}
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(n.maxTries),
	)
	return err
}
