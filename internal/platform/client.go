package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/fanout/internal/domain"
)

// Media container polling bounds shared by the async platforms
// (instagram, threads). Exceeding the window is a permanent failure.
var (
	containerPollInterval = 2 * time.Second
	containerMaxPolls     = 15
)

// classifyTransport wraps transport-level failures (timeouts, resets, DNS)
// as transient. Context cancellation passes through untouched.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientError{Cause: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &domain.TransientError{Cause: err}
	}
	// url.Error wraps everything the transport can produce; treat the rest
	// of it as transient too (connection refused, reset by peer).
	if strings.Contains(err.Error(), "connection") {
		return &domain.TransientError{Cause: err}
	}
	return err
}

// classifyStatus maps an HTTP error response onto the taxonomy: 429 and 408
// and every 5xx are transient (with Retry-After honored when present), any
// other 4xx is a permanent platform rejection.
func classifyStatus(platform domain.Platform, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		t := &domain.TransientError{Cause: fmt.Errorf("%s returned %d: %s", platform, code, truncate(body, 200))}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				t.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return t
	}
	return &domain.PlatformError{Platform: platform, StatusCode: code, Reason: truncate(body, 200)}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// doJSON sends a request, classifies any failure, and decodes a 2xx body
// into out when out is non-nil.
func doJSON(client *http.Client, platform domain.Platform, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(platform, resp, body)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(body, out), "%s: decode response", platform)
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	return bytes.NewReader(raw), nil
}

// fetchMedia downloads one resolved media URL for platforms that need the
// raw bytes re-uploaded. Download failures are transient: the object store
// link may be mid-rotation.
func fetchMedia(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "media request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &domain.TransientError{Cause: fmt.Errorf("media fetch returned %d for %s", resp.StatusCode, url)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", classifyTransport(err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}

// validate applies the shared constraint checks every adapter runs.
func validate(ctx context.Context, limits LimitsSource, platform domain.Platform, body string, mediaURLs []string) error {
	l, err := limits.GetLimits(ctx, platform)
	if err != nil {
		return errors.Wrapf(err, "%s: load limits", platform)
	}
	if body == "" && len(mediaURLs) == 0 {
		return &domain.ValidationError{Platform: platform, Reason: "post has no text and no media"}
	}
	if l.MaxChars > 0 && len([]rune(body)) > l.MaxChars {
		return &domain.ValidationError{Platform: platform,
			Reason: fmt.Sprintf("text is %d characters, limit is %d", len([]rune(body)), l.MaxChars)}
	}
	if l.MaxMedia >= 0 && len(mediaURLs) > l.MaxMedia {
		return &domain.ValidationError{Platform: platform,
			Reason: fmt.Sprintf("%d media attachments, limit is %d", len(mediaURLs), l.MaxMedia)}
	}
	if l.RequiresMedia && len(mediaURLs) == 0 {
		return &domain.ValidationError{Platform: platform, Reason: "platform requires at least one media attachment"}
	}
	return nil
}
