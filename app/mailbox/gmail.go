package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// AuthError marks credential problems so the import worker can distinguish
// account-level failures from transient network errors.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox authentication failed: status %d", e.Status)
}

// GmailClient talks to the Gmail REST API directly. Tokens come from the
// account row; no token refresh happens here (the credential is treated as
// opaque and failures surface as AuthError).
type GmailClient struct {
	baseURL    string
	maxResults int
}

func NewGmailClient() *GmailClient {
	return &GmailClient{baseURL: gmailBaseURL, maxResults: 50}
}

// NewGmailClientWithBaseURL is used by tests to point at a stub server.
func NewGmailClientWithBaseURL(baseURL string) *GmailClient {
	return &GmailClient{baseURL: baseURL, maxResults: 50}
}

func (c *GmailClient) FetchMessages(ctx context.Context, cred Credential, query string, since time.Time) ([]RawMessage, error) {
	if cred.AccessToken == "" {
		return nil, &AuthError{Status: http.StatusUnauthorized}
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
	}))

	fullQuery := fmt.Sprintf("after:%d", since.Unix())
	if query != "" {
		fullQuery = fullQuery + " " + query
	}

	ids, err := c.listMessageIDs(ctx, httpClient, fullQuery)
	if err != nil {
		return nil, err
	}

	messages := make([]RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := c.getMessage(ctx, httpClient, id)
		if err != nil {
			slog.Warn("Failed to fetch message, skipping", "message_id", id, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}

	return messages, nil
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// listMessageIDs follows nextPageToken until the listing is exhausted, so a
// burst larger than one page is never silently truncated.
func (c *GmailClient) listMessageIDs(ctx context.Context, client *http.Client, query string) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		endpoint := fmt.Sprintf("%s/messages?q=%s&maxResults=%d", c.baseURL, url.QueryEscape(query), c.maxResults)
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		body, err := c.get(ctx, client, endpoint)
		if err != nil {
			return nil, err
		}

		var list listResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode message list: %w", err)
		}

		for _, m := range list.Messages {
			ids = append(ids, m.ID)
		}

		if list.NextPageToken == "" {
			return ids, nil
		}
		pageToken = list.NextPageToken
	}
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type messageResponse struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		messagePart
	} `json:"payload"`
}

func (c *GmailClient) getMessage(ctx context.Context, client *http.Client, id string) (*RawMessage, error) {
	endpoint := fmt.Sprintf("%s/messages/%s?format=full", c.baseURL, id)

	body, err := c.get(ctx, client, endpoint)
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	msg := &RawMessage{ID: resp.ID}

	for _, h := range resp.Payload.Headers {
		switch h.Name {
		case "From":
			msg.Sender = h.Value
			if addr, err := mail.ParseAddress(h.Value); err == nil {
				msg.Sender = addr.Address
			}
		case "Subject":
			msg.Subject = h.Value
		}
	}

	if millis, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil {
		msg.Timestamp = time.UnixMilli(millis).UTC()
	}

	msg.Body = extractBody(resp.Payload.messagePart)

	return msg, nil
}

// extractBody walks the MIME tree preferring text/plain over text/html.
func extractBody(part messagePart) string {
	if body := findBody(part, "text/plain"); body != "" {
		return body
	}
	return findBody(part, "text/html")
}

func findBody(part messagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body.Data != "" {
		if data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
	}

	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}

	return ""
}

func (c *GmailClient) get(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call mailbox API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return body, nil
}
