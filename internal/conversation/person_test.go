package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPersonName_FromScopeTargets(t *testing.T) {
	name, ok := ExtractPersonName([]string{"Jane Smith"}, "who is Jane Smith")
	require.True(t, ok)
	require.Equal(t, "Jane Smith", name)
}

func TestExtractPersonName_FromQueryPattern(t *testing.T) {
	name, ok := ExtractPersonName(nil, "can you tell me about John Doe please")
	require.True(t, ok)
	require.Equal(t, "John Doe", name)
}

func TestPersonRelevance_HigherWithExactNameAndKeywords(t *testing.T) {
	sources := []SearchResult{
		{Text: "Jane Smith is the engineering manager in the IT department, contact: jane@example.com"},
	}
	weak := []SearchResult{{Text: "some unrelated text about a different topic"}}

	strong := PersonRelevance(sources, "Jane Smith")
	weakScore := PersonRelevance(weak, "Jane Smith")
	require.Greater(t, strong, weakScore)
}

func TestGeneratePersonResponse_NoResults(t *testing.T) {
	resp := GeneratePersonResponse("Jane Smith", nil, 0)
	require.Contains(t, resp, "Jane Smith")
	require.Contains(t, resp, "couldn't find")
}

func TestGeneratePersonResponse_LowConfidenceCaveat(t *testing.T) {
	results := []SearchResult{{Text: "Jane Smith is a manager in IT department", Source: "directory.pdf"}}
	resp := GeneratePersonResponse("Jane Smith", results, 0.2)
	require.Contains(t, resp, "low confidence")
}
