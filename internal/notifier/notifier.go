// Package notifier notifies namespace owners of status changes and
// reclamation actions. Slack is currently the only supported gateway.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ska-telescope/ska-namespace-manager/internal/owneraddr"
)

// Notifier sends a rendered message to the owner encoded in address.
// address is the base64 of "name::slack_id" (see owneraddr). It reports
// whether a message was actually sent.
type Notifier interface {
	Notify(ctx context.Context, address, templateName, status string, fields map[string]string) (bool, error)
}

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// Templates are keyed by name and rendered with text/template against the
// fields map plus the target status (as "status").
var templates = map[string]string{
	"status": "Your namespace `{{.namespace}}` changed status to *{{.status}}*.",
	"delete": "Your namespace `{{.namespace}}` has been reclaimed (status was *{{.status}}*).",
}

// slackNotifier posts to Slack's chat.postMessage over plain HTTP; the
// example pack carries no Slack SDK, so this is a thin client.
type slackNotifier struct {
	token  string
	url    string
	client *http.Client
}

// New returns a Slack-backed Notifier, or a no-op Notifier when token is
// empty, logging a warning exactly once at startup.
func New(token string) Notifier {
	if token == "" {
		log.Warn().Msg("slack bot token is not configured, notifications are disabled")
		return noopNotifier{}
	}
	return &slackNotifier{
		token:  token,
		url:    slackPostMessageURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *slackNotifier) Notify(ctx context.Context, address, templateName, status string, fields map[string]string) (bool, error) {
	name, slackID, err := owneraddr.Decode(address)
	if err != nil {
		return false, fmt.Errorf("notifier: decoding address: %w", err)
	}
	if slackID == "" {
		log.Error().Str("owner", name).Msg("no valid slack id to notify the owner")
		return false, nil
	}

	body, err := render(templateName, status, fields)
	if err != nil {
		return false, fmt.Errorf("notifier: rendering template %q: %w", templateName, err)
	}

	payload, err := json.Marshal(map[string]string{
		"channel": slackID,
		"text":    body,
	})
	if err != nil {
		return false, fmt.Errorf("notifier: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("notifier: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("owner", name).Msg("slack notification failed")
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status_code", resp.StatusCode).Str("owner", name).Msg("slack api returned non-200")
		return false, nil
	}

	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return false, fmt.Errorf("notifier: decoding slack response: %w", err)
	}
	if !ack.OK {
		log.Error().Str("slack_error", ack.Error).Str("owner", name).Msg("slack rejected notification")
		return false, nil
	}

	return true, nil
}

func render(templateName, status string, fields map[string]string) (string, error) {
	tmplSrc, ok := templates[templateName]
	if !ok {
		return "", fmt.Errorf("unknown notification template %q", templateName)
	}

	data := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["status"] = status

	tmpl, err := template.New(templateName).Parse(tmplSrc)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// noopNotifier is used when no Slack token is configured.
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, string, map[string]string) (bool, error) {
	return false, nil
}
