package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	APIKey string
	Domain string
	Sender string // e.g. "Realty Genie <postmaster@rg.example.com>"

	BaseURL string // override for tests; defaults to api.mailgun.net
	Client  *http.Client
}

func NewMailgun(apiKey, domain, sender string) *Mailgun {
	return &Mailgun{
		APIKey: apiKey,
		Domain: domain,
		Sender: sender,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *Mailgun) endpoint() string {
	base := m.BaseURL
	if base == "" {
		base = "https://api.mailgun.net"
	}
	return base + "/v3/" + m.Domain + "/messages"
}

func (m *Mailgun) Send(ctx context.Context, e Email) (string, error) {
	recipient := e.ToEmail
	if e.ToName != "" {
		recipient = fmt.Sprintf("%s <%s>", e.ToName, e.ToEmail)
	}

	form := url.Values{}
	form.Set("from", m.Sender)
	form.Set("to", recipient)
	form.Set("subject", e.Subject)
	form.Set("html", e.Body)
	form.Set("o:tracking", "yes")
	for _, tag := range e.Tags {
		form.Add("o:tag", tag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth("api", m.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("mailgun api %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "unknown", nil
	}
	return out.ID, nil
}
