/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slackURL = "https://hooks.slack.test/services/T000/B000/XXX"

func TestSlackPayload(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := slackPayload(errors.New("mpc gateway unreachable"), at)

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, msg.Blocks[0].Text.Text, "VaultPay")
	assert.Equal(t, "*Error:*\nmpc gateway unreachable", msg.Blocks[1].Fields[0].Text)
	assert.True(t, strings.HasPrefix(msg.Blocks[2].Fields[0].Text, "*Time:*\n01 Mar 24"))
}

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: slackURL}},
	})

	var received slackMessage
	httpmock.RegisterResponder(http.MethodPost, slackURL, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &received)
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	err := SlackNotification(context.Background(), errors.New("ledger rpc timeout"))
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	require.Len(t, received.Blocks, 3)
	assert.Equal(t, "*Error:*\nledger rpc timeout", received.Blocks[1].Fields[0].Text)
}

func TestSlackNotificationRejected(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: slackURL}},
	})
	httpmock.RegisterResponder(http.MethodPost, slackURL, httpmock.NewStringResponder(http.StatusForbidden, "invalid_token"))

	err := SlackNotification(context.Background(), errors.New("boom"))
	assert.Error(t, err)
}
