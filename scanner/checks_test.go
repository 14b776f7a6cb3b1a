package scanner_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/scanner"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

func TestSecurityHeadersCheckOnRecordedFlow(t *testing.T) {
	c := qt.New(t)

	f := flow.New()
	f.ResponseStatus = 200
	f.ResponseHeaders = flow.Header{
		{Name: "Content-Type", Value: "text/html"},
		{Name: "Server", Value: "nginx/1.24"},
		{Name: "Set-Cookie", Value: "sid=abc; Path=/"},
	}

	check := &scanner.SecurityHeadersCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL:  "https://example.test/",
		Flow: f,
	})

	titles := make(map[string]bool)
	for _, finding := range findings {
		titles[finding.Title] = true
	}

	c.Assert(titles["Missing Strict-Transport-Security Header"], qt.IsTrue)
	c.Assert(titles["Missing Content-Security-Policy Header"], qt.IsTrue)
	c.Assert(titles["Server Header Information Disclosure"], qt.IsTrue)
	c.Assert(titles["Cookie Missing Secure Flag"], qt.IsTrue)
	c.Assert(titles["Cookie Missing HttpOnly Flag"], qt.IsTrue)
}

func TestXSSCheckDetectsReflection(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// reflect the parameter unescaped
		fmt.Fprintf(w, "<html><body>you searched for %s</body></html>", r.URL.Query().Get("q"))
	}))
	defer origin.Close()

	check := &scanner.XSSCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL: origin.URL + "/?q=test",
	})

	c.Assert(findings, qt.HasLen, 1)
	c.Assert(findings[0].IssueType, qt.Equals, "xss")
	c.Assert(findings[0].Parameter, qt.Equals, "q")
}

func TestXSSCheckIgnoresEscapedReflection(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", htmlEscape(r.URL.Query().Get("q")))
	}))
	defer origin.Close()

	check := &scanner.XSSCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL: origin.URL + "/?q=test",
	})

	c.Assert(findings, qt.HasLen, 0)
}

func htmlEscape(s string) string {
	replacer := map[rune]string{'<': "&lt;", '>': "&gt;", '"': "&quot;", '&': "&amp;"}
	out := ""
	for _, r := range s {
		if rep, ok := replacer[r]; ok {
			out += rep
			continue
		}
		out += string(r)
	}
	return out
}

func TestSQLInjectionCheckDetectsErrorSignature(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if len(id) > 0 && id[len(id)-1] == '\'' {
			fmt.Fprint(w, "You have an error in your SQL syntax near ''")
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer origin.Close()

	check := &scanner.SQLInjectionCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL: origin.URL + "/?id=1",
	})

	c.Assert(findings, qt.HasLen, 1)
	c.Assert(findings[0].IssueType, qt.Equals, "sql_injection")
	c.Assert(findings[0].Severity, qt.Equals, scanner.SeverityCritical)
}

func TestCSRFCheckFlagsTokenlessPOSTForm(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<form method="post" action="/transfer"><input name="amount"></form>
			<form method="post" action="/login"><input name="csrf_token"></form>
		</body></html>`)
	}))
	defer origin.Close()

	check := &scanner.CSRFCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL: origin.URL + "/",
	})

	c.Assert(findings, qt.HasLen, 1)
	c.Assert(findings[0].IssueType, qt.Equals, "csrf")
}

func TestInformationDisclosureCheck(t *testing.T) {
	c := qt.New(t)

	f := flow.New()
	f.ResponseStatus = 200
	f.ResponseBody = []byte(`<html><!-- TODO: remove hardcoded password -->
		contact admin@internal.example.test, backend at 192.168.1.10</html>`)

	check := &scanner.InformationDisclosureCheck{}
	findings := check.Run(context.Background(), upstream.NewClient(upstream.Options{}), scanner.Target{
		URL:  "https://example.test/",
		Flow: f,
	})

	types := make(map[string]int)
	for _, finding := range findings {
		types[finding.Title]++
	}
	c.Assert(types["Email Address Disclosure"], qt.Equals, 1)
	c.Assert(types["Private IP Address Disclosure"], qt.Equals, 1)
	c.Assert(types["Sensitive HTML Comment"], qt.Equals, 1)
}
