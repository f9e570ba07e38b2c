package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klahtinen/deskbell-go/internal/errors"
)

const testWebhookURL = "https://outlook.office.example/webhook/abc"

func TestTeamsPosterPostsMessageCard(t *testing.T) {
	poster := NewTeamsPoster()
	httpmock.ActivateNonDefault(poster.client)
	defer httpmock.DeactivateAndReset()

	var received TeamsCard
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, "bad json"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "1"), nil
		})

	card := RingCard("Room 101", "alice", time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	err := poster.Post(context.Background(), testWebhookURL, card)
	require.NoError(t, err)

	assert.Equal(t, "MessageCard", received.Type)
	assert.Equal(t, "Doorbell ring", received.Title)
	assert.Contains(t, received.Text, "Room 101")
	require.Len(t, received.Sections, 1)
	assert.Equal(t, "alice", received.Sections[0].Facts[0].Value)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestTeamsPosterNon2xxIsWebhookError(t *testing.T) {
	poster := NewTeamsPoster()
	httpmock.ActivateNonDefault(poster.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testWebhookURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, "throttled"))

	err := poster.Post(context.Background(), testWebhookURL, RingCard("Room", "t", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryWebhook))
}

func TestTeamsPosterTransportFailure(t *testing.T) {
	poster := NewTeamsPoster()
	httpmock.ActivateNonDefault(poster.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testWebhookURL,
		httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	err := poster.Post(context.Background(), testWebhookURL, RingCard("Room", "t", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryWebhook))
}
