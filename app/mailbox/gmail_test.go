package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeBody(body string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(body))
}

func newGmailStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("q"), "after:")
		fmt.Fprint(w, `{"messages":[{"id":"msg-1"}]}`)
	})
	mux.HandleFunc("/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"id": "msg-1",
			"internalDate": "1755907200000",
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [
					{"name": "From", "value": "Banco Central <alertas@banco.cr>"},
					{"name": "Subject", "value": "Notificación de compra"}
				],
				"parts": [
					{"mimeType": "text/html", "body": {"data": "%s"}},
					{"mimeType": "text/plain", "body": {"data": "%s"}}
				]
			}
		}`, encodeBody("<p>Monto: CRC 100</p>"), encodeBody("Monto: CRC 100"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchMessagesParsesMessages(t *testing.T) {
	server := newGmailStub(t)
	client := NewGmailClientWithBaseURL(server.URL)

	messages, err := client.FetchMessages(context.Background(),
		Credential{AccessToken: "token"}, "from:(banco.cr)", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Equal(t, "msg-1", msg.ID)
	require.Equal(t, "alertas@banco.cr", msg.Sender)
	require.Equal(t, "Notificación de compra", msg.Subject)
	// text/plain wins over text/html.
	require.Equal(t, "Monto: CRC 100", msg.Body)
	require.Equal(t, time.UnixMilli(1755907200000).UTC(), msg.Timestamp)
}

func TestFetchMessagesFollowsPagination(t *testing.T) {
	var listCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"messages":[{"id":"msg-1"}],"nextPageToken":"page-2"}`)
			return
		}
		require.Equal(t, "page-2", r.URL.Query().Get("pageToken"))
		fmt.Fprint(w, `{"messages":[{"id":"msg-2"}]}`)
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := path.Base(r.URL.Path)
		fmt.Fprintf(w, `{
			"id": %q,
			"internalDate": "1755907200000",
			"payload": {
				"mimeType": "text/plain",
				"headers": [{"name": "From", "value": "alertas@banco.cr"}],
				"body": {"data": %q}
			}
		}`, id, encodeBody("Monto: CRC 100"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewGmailClientWithBaseURL(server.URL)
	messages, err := client.FetchMessages(context.Background(),
		Credential{AccessToken: "token"}, "", time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, listCalls)
	require.Len(t, messages, 2)
	require.Equal(t, "msg-1", messages[0].ID)
	require.Equal(t, "msg-2", messages[1].ID)
}

func TestFetchMessagesMissingTokenIsAuthError(t *testing.T) {
	client := NewGmailClient()

	_, err := client.FetchMessages(context.Background(), Credential{}, "", time.Now())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
}

func TestFetchMessagesUnauthorizedIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewGmailClientWithBaseURL(server.URL)
	_, err := client.FetchMessages(context.Background(),
		Credential{AccessToken: "expired"}, "", time.Now())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestFetchMessagesEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(server.Close)

	client := NewGmailClientWithBaseURL(server.URL)
	messages, err := client.FetchMessages(context.Background(),
		Credential{AccessToken: "token"}, "", time.Now())
	require.NoError(t, err)
	require.Empty(t, messages)
}
