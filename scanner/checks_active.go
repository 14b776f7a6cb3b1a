package scanner

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vsthakur101/webapi-moderator/upstream"
)

// XSSCheck injects a reflection probe into each query parameter and looks
// for it unescaped in the response.
type XSSCheck struct{}

const xssProbe = `"><webapi-mod-probe>`

func (*XSSCheck) Meta() Meta {
	return Meta{
		ID:          "xss",
		Name:        "Cross-Site Scripting (Reflected)",
		Description: "Injects a marker into query parameters and checks for unescaped reflection",
		Category:    CategoryActive,
		Severity:    SeverityHigh,
	}
}

func (c *XSSCheck) Run(ctx context.Context, client *upstream.Client, target Target) []Finding {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil
	}
	params := u.Query()
	if len(params) == 0 {
		return nil
	}

	var findings []Finding
	for name := range params {
		probed := cloneQuery(params)
		probed.Set(name, xssProbe)
		u.RawQuery = probed.Encode()

		body, ok := probeGet(ctx, client, u.String())
		if !ok {
			continue
		}
		if strings.Contains(string(body), xssProbe) {
			findings = append(findings, Finding{
				IssueType:   "xss",
				Severity:    SeverityHigh,
				Confidence:  ConfidenceFirm,
				Title:       "Reflected Cross-Site Scripting",
				Description: "The parameter value is reflected unescaped in the response, allowing script injection.",
				URL:         target.URL,
				Method:      http.MethodGet,
				Parameter:   name,
				Location:    "query",
				Evidence:    xssProbe,
				Payload:     xssProbe,
				Remediation: "HTML-encode user input before rendering it in responses.",
				References:  []string{"https://owasp.org/www-community/attacks/xss/"},
			})
		}
	}
	return findings
}

// SQLInjectionCheck appends a quote breaker to each query parameter and
// looks for database error signatures.
type SQLInjectionCheck struct{}

var sqlErrorSignatures = []string{
	"you have an error in your sql syntax",
	"unclosed quotation mark",
	"sqlite3.operationalerror",
	"pg::syntaxerror",
	"ora-01756",
	"sqlstate[",
	"syntax error at or near",
}

func (*SQLInjectionCheck) Meta() Meta {
	return Meta{
		ID:          "sql_injection",
		Name:        "SQL Injection (Error-Based)",
		Description: "Appends quote breakers to query parameters and checks for database error signatures",
		Category:    CategoryActive,
		Severity:    SeverityCritical,
	}
}

func (c *SQLInjectionCheck) Run(ctx context.Context, client *upstream.Client, target Target) []Finding {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil
	}
	params := u.Query()
	if len(params) == 0 {
		return nil
	}

	var findings []Finding
	for name, values := range params {
		original := ""
		if len(values) > 0 {
			original = values[0]
		}
		payload := original + "'"

		probed := cloneQuery(params)
		probed.Set(name, payload)
		u.RawQuery = probed.Encode()

		body, ok := probeGet(ctx, client, u.String())
		if !ok {
			continue
		}
		lower := strings.ToLower(string(body))
		for _, sig := range sqlErrorSignatures {
			if strings.Contains(lower, sig) {
				findings = append(findings, Finding{
					IssueType:   "sql_injection",
					Severity:    SeverityCritical,
					Confidence:  ConfidenceFirm,
					Title:       "SQL Injection (Error-Based)",
					Description: "A database error surfaced when a quote was injected into the parameter.",
					URL:         target.URL,
					Method:      http.MethodGet,
					Parameter:   name,
					Location:    "query",
					Evidence:    sig,
					Payload:     payload,
					Remediation: "Use parameterized queries; never interpolate user input into SQL.",
					References:  []string{"https://owasp.org/www-community/attacks/SQL_Injection"},
				})
				break
			}
		}
	}
	return findings
}

// CSRFCheck fetches the page and flags POST forms without a token field.
type CSRFCheck struct{}

var csrfTokenNames = []string{"csrf", "xsrf", "_token", "authenticity_token", "__requestverificationtoken"}

func (*CSRFCheck) Meta() Meta {
	return Meta{
		ID:          "csrf",
		Name:        "Cross-Site Request Forgery",
		Description: "Flags POST forms that carry no anti-CSRF token field",
		Category:    CategoryActive,
		Severity:    SeverityMedium,
	}
}

func (c *CSRFCheck) Run(ctx context.Context, client *upstream.Client, target Target) []Finding {
	body, ok := probeGet(ctx, client, target.URL)
	if !ok {
		return nil
	}
	lower := strings.ToLower(string(body))

	var findings []Finding
	offset := 0
	for {
		idx := strings.Index(lower[offset:], "<form")
		if idx < 0 {
			break
		}
		formStart := offset + idx
		formEnd := strings.Index(lower[formStart:], "</form>")
		if formEnd < 0 {
			break
		}
		form := lower[formStart : formStart+formEnd]
		offset = formStart + formEnd + len("</form>")

		if !strings.Contains(form, `method="post"`) && !strings.Contains(form, "method='post'") && !strings.Contains(form, "method=post") {
			continue
		}

		hasToken := false
		for _, token := range csrfTokenNames {
			if strings.Contains(form, token) {
				hasToken = true
				break
			}
		}
		if !hasToken {
			evidence := form
			if len(evidence) > 200 {
				evidence = evidence[:200]
			}
			findings = append(findings, Finding{
				IssueType:   "csrf",
				Severity:    SeverityMedium,
				Confidence:  ConfidenceTentative,
				Title:       "POST Form Without Anti-CSRF Token",
				Description: "A state-changing form carries no recognizable anti-CSRF token field.",
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "body",
				Evidence:    evidence,
				Remediation: "Include and validate a per-session anti-CSRF token in all state-changing forms.",
				References:  []string{"https://owasp.org/www-community/attacks/csrf"},
			})
		}
	}
	return findings
}

func cloneQuery(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, vs := range values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func probeGet(ctx context.Context, client *upstream.Client, rawURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := client.Do(ctx, req, upstream.RequestOptions{
		Timeout:         30 * time.Second,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, false
	}
	return body, true
}
