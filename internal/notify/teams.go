package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/klahtinen/deskbell-go/internal/errors"
)

const (
	// webhookTimeout bounds one card post end to end.
	webhookTimeout = 10 * time.Second

	// maxErrorBodySize limits error response body reading.
	maxErrorBodySize = 1024
)

// TeamsCard is the legacy MessageCard payload accepted by Teams incoming
// webhooks.
type TeamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

// TeamsSection is one fact block of a card.
type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
}

// TeamsFact is a name/value row inside a section.
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TeamsPoster posts notification cards to a Teams incoming webhook.
// Best-effort: callers record success/failure, nothing else is read from the
// response. Thread-safe for concurrent use.
type TeamsPoster struct {
	client *http.Client
}

// NewTeamsPoster creates a poster with a pooled transport and bounded
// timeouts.
func NewTeamsPoster() *TeamsPoster {
	return &TeamsPoster{
		client: &http.Client{
			Timeout: webhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: webhookTimeout,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}
}

// RingCard builds the card posted for a doorbell ring.
func RingCard(locationName, teacherName string, rangAt time.Time) TeamsCard {
	return TeamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: "0076D7",
		Title:      "Doorbell ring",
		Text:       fmt.Sprintf("Someone is at the door of %s", locationName),
		Sections: []TeamsSection{{
			ActivityTitle: "Visit details",
			Facts: []TeamsFact{
				{Name: "For", Value: teacherName},
				{Name: "Location", Value: locationName},
				{Name: "Time", Value: rangAt.Format("15:04:05")},
			},
		}},
	}
}

// Post sends one card to the webhook URL. Any non-2xx response is an error.
func (p *TeamsPoster) Post(ctx context.Context, webhookURL string, card TeamsCard) error {
	body, err := json.Marshal(card)
	if err != nil {
		return errors.New(fmt.Errorf("marshaling card: %w", err)).
			Component("notify").
			Category(errors.CategoryWebhook).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.New(fmt.Errorf("building webhook request: %w", err)).
			Component("notify").
			Category(errors.CategoryWebhook).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.New(fmt.Errorf("posting webhook: %w", err)).
			Component("notify").
			Category(errors.CategoryWebhook).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errors.Newf("webhook returned status %d: %s", resp.StatusCode, string(errBody)).
			Component("notify").
			Category(errors.CategoryWebhook).
			Context("status", resp.StatusCode).
			Build()
	}

	return nil
}
