// Package scanner runs a pipeline of passive and active checks against
// recorded flows and URLs, emitting deduplicated issues.
package scanner

import (
	"context"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Check categories.
const (
	CategoryPassive = "passive"
	CategoryActive  = "active"
)

// Severities, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Confidence levels.
const (
	ConfidenceCertain   = "certain"
	ConfidenceFirm      = "firm"
	ConfidenceTentative = "tentative"
)

// Meta describes a check.
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
}

// Finding is one result emitted by a check.
type Finding struct {
	IssueType   string
	Severity    string
	Confidence  string
	Title       string
	Description string
	URL         string
	Method      string
	Parameter   string
	Location    string
	Evidence    string
	Payload     string
	Remediation string
	References  []string
}

// Target is what a check examines: a URL, optionally with the recorded
// flow that produced it.
type Target struct {
	URL  string
	Flow *flow.Flow
}

// Check is one vulnerability check. Passive checks examine the recorded
// response and fetch the URL once only when the target carries none; active
// checks probe via the provided client.
type Check interface {
	Meta() Meta
	Run(ctx context.Context, client *upstream.Client, target Target) []Finding
}

// Registry returns the shipped checks.
func Registry() []Check {
	return []Check{
		&SecurityHeadersCheck{},
		&InformationDisclosureCheck{},
		&XSSCheck{},
		&SQLInjectionCheck{},
		&CSRFCheck{},
	}
}

// FindCheck resolves a check by id.
func FindCheck(id string) Check {
	for _, c := range Registry() {
		if c.Meta().ID == id {
			return c
		}
	}
	return nil
}
