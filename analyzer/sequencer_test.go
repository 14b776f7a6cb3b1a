package analyzer_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/analyzer"
)

func TestShannonEntropy(t *testing.T) {
	c := qt.New(t)

	c.Assert(analyzer.ShannonEntropy(""), qt.Equals, 0.0)
	c.Assert(analyzer.ShannonEntropy("aaaa"), qt.Equals, 0.0)
	c.Assert(analyzer.ShannonEntropy("ab"), qt.Equals, 1.0)
	c.Assert(analyzer.ShannonEntropy("abcd"), qt.Equals, 2.0)
}

func TestAnalyzeTokensEmpty(t *testing.T) {
	c := qt.New(t)

	result := analyzer.AnalyzeTokens(nil)
	c.Assert(result.TotalSamples, qt.Equals, 0)
	c.Assert(result.Entropy.Rating, qt.Equals, "N/A")
}

func TestAnalyzeTokensSequentialNumbers(t *testing.T) {
	c := qt.New(t)

	result := analyzer.AnalyzeTokens([]string{"100", "101", "102", "103", "104"})

	c.Assert(result.TotalSamples, qt.Equals, 5)
	c.Assert(result.UniqueSamples, qt.Equals, 5)
	c.Assert(result.Patterns.HasSequential, qt.IsTrue)
	c.Assert(result.Recommendation, qt.Contains, "Sequential patterns")
}

func TestAnalyzeTokensRepeated(t *testing.T) {
	c := qt.New(t)

	result := analyzer.AnalyzeTokens([]string{"tok", "tok", "tok", "other"})
	c.Assert(result.Patterns.HasRepeated, qt.IsTrue)
}

func TestAnalyzeTokensCommonPrefix(t *testing.T) {
	c := qt.New(t)

	result := analyzer.AnalyzeTokens([]string{"sess_a81x", "sess_b92y", "sess_c03z", "sess_d14w"})
	c.Assert(result.Patterns.CommonPrefixes, qt.Contains, "sess_")
}

func TestAnalyzeTokensLengthStats(t *testing.T) {
	c := qt.New(t)

	result := analyzer.AnalyzeTokens([]string{"ab", "abcd", "abc"})
	c.Assert(result.MinLength, qt.Equals, 2)
	c.Assert(result.MaxLength, qt.Equals, 4)
	c.Assert(result.AvgLength, qt.Equals, 3.0)
}
