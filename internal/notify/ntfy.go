package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sentinelwatch/sentinel/internal/triage"
)

// NtfyNotifier pushes events to an ntfy topic URL for phone and desktop
// alerts.
type NtfyNotifier struct {
	url    string
	client *retryablehttp.Client
}

func NewNtfyNotifier(url string) *NtfyNotifier {
	return &NtfyNotifier{
		url:    url,
		client: newRetryClient(10 * time.Second),
	}
}

func (n *NtfyNotifier) Notify(ctx context.Context, event Event) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, []byte(event.Message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", event.Title)
	req.Header.Set("Priority", ntfyPriority(event.Severity))
	if event.Link != "" {
		req.Header.Set("Click", event.Link)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func ntfyPriority(severity string) string {
	switch severity {
	case triage.SeverityCritical:
		return "urgent"
	case triage.SeverityHigh:
		return "high"
	case triage.SeverityLow, triage.SeverityInfo:
		return "low"
	default:
		return "default"
	}
}
