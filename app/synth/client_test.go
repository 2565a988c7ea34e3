package synth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const candidateJSON = `[{
	"template_name": "Compra con tarjeta",
	"template_type": "purchase",
	"body_contains": ["compra"],
	"amount_regex": "Monto:\\s*(?P<amount>[\\d,\\.]+)",
	"priority": 60
}]`

func TestParseCandidatesPlainArray(t *testing.T) {
	candidates, err := parseCandidates(candidateJSON)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "Compra con tarjeta", candidates[0].Name)
	require.Equal(t, "purchase", candidates[0].Kind)
	require.Equal(t, 60, candidates[0].Priority)
}

func TestParseCandidatesStripsCodeFences(t *testing.T) {
	fenced := "```json\n" + candidateJSON + "\n```"
	candidates, err := parseCandidates(fenced)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestParseCandidatesSingleObject(t *testing.T) {
	candidates, err := parseCandidates(`{"template_name": "Solo", "amount_regex": "x"}`)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "Solo", candidates[0].Name)
}

func TestParseCandidatesRejectsProse(t *testing.T) {
	_, err := parseCandidates("Here are the templates you asked for.")
	require.Error(t, err)
}

func TestSynthesizeRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))

		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, candidateJSON)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-key", "test-model")
	candidates, err := client.Synthesize(context.Background(), "Banco Central",
		[]SampleEmail{{Sender: "alertas@banco.cr", Subject: "Compra", Body: "Monto: 100"}}, "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestSynthesizeSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-key", "test-model")
	_, err := client.Synthesize(context.Background(), "Banco Central",
		[]SampleEmail{{Body: "x"}}, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestSynthesizeRequiresSamples(t *testing.T) {
	client := NewClient("http://localhost:0", "k", "m")
	_, err := client.Synthesize(context.Background(), "Banco", nil, "")
	require.Error(t, err)
}

func TestBuildUserPromptIncludesGuidance(t *testing.T) {
	prompt := buildUserPrompt("Banco Central", []SampleEmail{
		{Sender: "alertas@banco.cr", Subject: "Compra", Body: "Monto: CRC 100"},
	}, "loosen the amount pattern")

	require.Contains(t, prompt, "Banco Central")
	require.Contains(t, prompt, "Monto: CRC 100")
	require.Contains(t, prompt, "loosen the amount pattern")
	require.Contains(t, prompt, "(?P<name>...)")
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head>
<body><p>Monto: <b>CRC 100</b></p><script>alert(1)</script></body></html>`

	text := StripHTML(html)
	require.Equal(t, "Monto: CRC 100", text)

	// Plain text passes through untouched.
	plain := "Monto: CRC 100\nGracias."
	require.Equal(t, plain, StripHTML(plain))
}
