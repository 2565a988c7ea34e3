package synth

import (
	"fmt"
	"regexp"
	"strings"
)

const systemPrompt = "You are an expert at analyzing banking notification emails and creating " +
	"extraction patterns. Always respond with valid JSON only."

const maxSampleBodyLen = 2000

func buildUserPrompt(sourceName string, samples []SampleEmail, guidance string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze these %s banking emails and create extraction templates "+
		"for automatic transaction extraction.\n\nEmail samples:\n", sourceName)

	for i, sample := range samples {
		fmt.Fprintf(&b, "\n--- Sample %d ---\n", i+1)
		fmt.Fprintf(&b, "Subject: %s\n", sample.Subject)
		fmt.Fprintf(&b, "Sender: %s\n", sample.Sender)
		body := sample.Body
		if len(body) > maxSampleBodyLen {
			body = body[:maxSampleBodyLen]
		}
		fmt.Fprintf(&b, "Body: %s\n", body)
	}

	b.WriteString(`
Respond with a JSON array of template objects with this structure:
[{
  "template_name": "Descriptive name for this email type",
  "template_type": "purchase|withdrawal|transfer|deposit|payment|fee",
  "subject_pattern": "Regex pattern matching email subjects (optional)",
  "sender_pattern": "Regex pattern matching sender address (optional)",
  "body_contains": ["required keyword"],
  "body_excludes": ["excluding keyword"],
  "amount_regex": "Regex with named group (?P<amount>...)",
  "date_regex": "Regex with named group (?P<date>...)",
  "description_regex": "Regex with named group (?P<description>...)",
  "counterpart_regex": "Regex with named group (?P<counterpart>...)",
  "reference_regex": "Regex with named group (?P<reference>...)",
  "priority": 50
}]

Requirements:
- Use Go RE2 syntax with named groups: (?P<name>...)
- Make patterns flexible enough to handle value variations between emails
- Include currency symbols and codes (CRC, USD, EUR) in amount patterns
- Handle number formatting with thousands separators and decimals
- Return valid JSON only, no prose
`)

	if guidance != "" {
		fmt.Fprintf(&b, "\nPrevious attempt feedback: %s\n", guidance)
	}

	return b.String()
}

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlStyleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// StripHTML reduces an HTML email body to plain text before it is used as a
// training sample or matched against body keywords.
func StripHTML(body string) string {
	if !looksLikeHTML(body) {
		return body
	}

	text := htmlScriptRe.ReplaceAllString(body, " ")
	text = htmlStyleRe.ReplaceAllString(text, " ")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, indicator := range []string{"<!doctype", "<html", "<head>", "<body>", "<div", "<span", "<p>", "<table"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
