package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

var owaspHeaderRefs = []string{
	"https://owasp.org/www-project-secure-headers/",
}

type headerAdvice struct {
	name        string
	severity    string
	description string
	remediation string
}

var requiredHeaders = []headerAdvice{
	{
		name:        "Strict-Transport-Security",
		severity:    SeverityMedium,
		description: "HSTS header is missing. This header enforces secure HTTPS connections.",
		remediation: "Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains'.",
	},
	{
		name:        "X-Content-Type-Options",
		severity:    SeverityLow,
		description: "X-Content-Type-Options header is missing. This prevents MIME type sniffing.",
		remediation: "Add 'X-Content-Type-Options: nosniff'.",
	},
	{
		name:        "X-Frame-Options",
		severity:    SeverityMedium,
		description: "X-Frame-Options header is missing. This prevents clickjacking attacks.",
		remediation: "Add 'X-Frame-Options: DENY' or 'X-Frame-Options: SAMEORIGIN'.",
	},
	{
		name:        "Content-Security-Policy",
		severity:    SeverityMedium,
		description: "Content-Security-Policy header is missing. CSP helps prevent XSS and data injection attacks.",
		remediation: "Implement a Content-Security-Policy header appropriate for the application.",
	},
	{
		name:        "Referrer-Policy",
		severity:    SeverityLow,
		description: "Referrer-Policy header is missing. This controls how much referrer information is shared.",
		remediation: "Add 'Referrer-Policy: strict-origin-when-cross-origin'.",
	},
}

var disclosureHeaders = []headerAdvice{
	{
		name:        "Server",
		severity:    SeverityInfo,
		description: "The Server header reveals server software information.",
		remediation: "Remove or obfuscate the Server header.",
	},
	{
		name:        "X-Powered-By",
		severity:    SeverityInfo,
		description: "The X-Powered-By header reveals technology information.",
		remediation: "Remove the X-Powered-By header.",
	},
	{
		name:        "X-AspNet-Version",
		severity:    SeverityInfo,
		description: "The X-AspNet-Version header reveals the ASP.NET version.",
		remediation: "Remove the X-AspNet-Version header.",
	},
}

// SecurityHeadersCheck flags missing security headers, disclosure headers,
// and weak cookie attributes on a recorded response.
type SecurityHeadersCheck struct{}

func (*SecurityHeadersCheck) Meta() Meta {
	return Meta{
		ID:          "security_headers",
		Name:        "Security Headers",
		Description: "Checks for missing or misconfigured HTTP security headers",
		Category:    CategoryPassive,
		Severity:    SeverityLow,
	}
}

func (c *SecurityHeadersCheck) Run(ctx context.Context, client *upstream.Client, target Target) []Finding {
	headers := c.responseHeaders(ctx, client, target)
	if headers == nil {
		return nil
	}

	var findings []Finding
	for _, advice := range requiredHeaders {
		if !headers.Has(advice.name) {
			findings = append(findings, Finding{
				IssueType:   "security_headers",
				Severity:    advice.severity,
				Confidence:  ConfidenceCertain,
				Title:       fmt.Sprintf("Missing %s Header", advice.name),
				Description: advice.description,
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "header",
				Parameter:   advice.name,
				Remediation: advice.remediation,
				References:  owaspHeaderRefs,
			})
		}
	}

	for _, advice := range disclosureHeaders {
		if v := headers.Get(advice.name); v != "" {
			findings = append(findings, Finding{
				IssueType:   "security_headers",
				Severity:    advice.severity,
				Confidence:  ConfidenceCertain,
				Title:       fmt.Sprintf("%s Header Information Disclosure", advice.name),
				Description: advice.description,
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "header",
				Parameter:   advice.name,
				Evidence:    advice.name + ": " + v,
				Remediation: advice.remediation,
				References:  owaspHeaderRefs,
			})
		}
	}

	for _, cookie := range headers.Values("Set-Cookie") {
		lower := strings.ToLower(cookie)
		evidence := cookie
		if len(evidence) > 100 {
			evidence = evidence[:100]
		}
		if !strings.Contains(lower, "secure") {
			findings = append(findings, Finding{
				IssueType:   "security_headers",
				Severity:    SeverityMedium,
				Confidence:  ConfidenceCertain,
				Title:       "Cookie Missing Secure Flag",
				Description: "A cookie is set without the Secure flag, allowing it to be sent over HTTP.",
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "cookie",
				Evidence:    evidence,
				Remediation: "Add the Secure flag to all cookies.",
			})
		}
		if !strings.Contains(lower, "httponly") {
			findings = append(findings, Finding{
				IssueType:   "security_headers",
				Severity:    SeverityLow,
				Confidence:  ConfidenceCertain,
				Title:       "Cookie Missing HttpOnly Flag",
				Description: "A cookie is set without the HttpOnly flag, making it accessible to JavaScript.",
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "cookie",
				Evidence:    evidence,
				Remediation: "Add the HttpOnly flag to cookies that don't need JavaScript access.",
			})
		}
		if !strings.Contains(lower, "samesite") {
			findings = append(findings, Finding{
				IssueType:   "security_headers",
				Severity:    SeverityLow,
				Confidence:  ConfidenceCertain,
				Title:       "Cookie Missing SameSite Attribute",
				Description: "A cookie is set without the SameSite attribute, which helps prevent CSRF.",
				URL:         target.URL,
				Method:      http.MethodGet,
				Location:    "cookie",
				Evidence:    evidence,
				Remediation: "Add SameSite=Strict or SameSite=Lax to cookies.",
			})
		}
	}

	return findings
}

// responseHeaders prefers the recorded flow; without one it fetches the
// URL once.
func (*SecurityHeadersCheck) responseHeaders(ctx context.Context, client *upstream.Client, target Target) flow.Header {
	if target.Flow != nil && target.Flow.ResponseStatus != 0 {
		return target.Flow.ResponseHeaders
	}
	resp, err := fetch(ctx, client, target.URL)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	return flow.HeaderFromHTTP(resp.Header)
}

var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	privateIPPattern  = regexp.MustCompile(`\b(?:10\.\d{1,3}|192\.168|172\.(?:1[6-9]|2\d|3[01]))\.\d{1,3}\.\d{1,3}\b`)
	stackTracePattern = regexp.MustCompile(`(?i)(traceback \(most recent call last\)|at [\w.$]+\([\w]+\.java:\d+\)|fatal error:.*in .*\.php)`)
	htmlCommentTODO   = regexp.MustCompile(`(?i)<!--[^>]*(todo|fixme|hack|password|secret)[^>]*-->`)
)

// InformationDisclosureCheck scans a recorded response body for leaked
// emails, private addresses, stack traces, and sensitive comments.
type InformationDisclosureCheck struct{}

func (*InformationDisclosureCheck) Meta() Meta {
	return Meta{
		ID:          "information_disclosure",
		Name:        "Information Disclosure",
		Description: "Detects leaked emails, internal IPs, stack traces, and sensitive comments in responses",
		Category:    CategoryPassive,
		Severity:    SeverityLow,
	}
}

func (c *InformationDisclosureCheck) Run(ctx context.Context, client *upstream.Client, target Target) []Finding {
	body := c.responseBody(ctx, client, target)
	if len(body) == 0 {
		return nil
	}
	text := string(body)

	var findings []Finding
	add := func(severity, title, description, evidence string) {
		if len(evidence) > 200 {
			evidence = evidence[:200]
		}
		findings = append(findings, Finding{
			IssueType:   "information_disclosure",
			Severity:    severity,
			Confidence:  ConfidenceFirm,
			Title:       title,
			Description: description,
			URL:         target.URL,
			Method:      http.MethodGet,
			Location:    "body",
			Evidence:    evidence,
			Remediation: "Remove sensitive information from production responses.",
		})
	}

	if m := emailPattern.FindString(text); m != "" {
		add(SeverityInfo, "Email Address Disclosure", "An email address appears in the response body.", m)
	}
	if m := privateIPPattern.FindString(text); m != "" {
		add(SeverityLow, "Private IP Address Disclosure", "An internal network address appears in the response body.", m)
	}
	if m := stackTracePattern.FindString(text); m != "" {
		add(SeverityMedium, "Stack Trace Disclosure", "A stack trace appears in the response body.", m)
	}
	if m := htmlCommentTODO.FindString(text); m != "" {
		add(SeverityLow, "Sensitive HTML Comment", "An HTML comment containing sensitive keywords appears in the response.", m)
	}

	return findings
}

func (*InformationDisclosureCheck) responseBody(ctx context.Context, client *upstream.Client, target Target) []byte {
	if target.Flow != nil && len(target.Flow.ResponseBody) > 0 {
		body, err := target.Flow.DecodedResponseBody()
		if err != nil {
			return target.Flow.ResponseBody
		}
		return body
	}
	resp, err := fetch(ctx, client, target.URL)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	return body
}

func fetch(ctx context.Context, client *upstream.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(ctx, req, upstream.RequestOptions{
		Timeout:         30 * time.Second,
		FollowRedirects: true,
	})
}
