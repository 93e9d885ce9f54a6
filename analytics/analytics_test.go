package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDef = `{
  "name": "page_visits",
  "description": "visits per day",
  "query_dimensions": ["Date"],
  "slice_dimensions": [],
  "measures": ["visits"],
  "mapping": {
    "visits": {"type": "count", "resource": "page"},
    "Date": {"type": "date", "field": "ts"}
  }
}`

func TestParseValid(t *testing.T) {
	def, err := Parse([]byte(validDef))
	require.NoError(t, err)
	assert.Equal(t, "page_visits", def.Name)
	assert.Equal(t, []string{"Date"}, def.QnosDimensions())
	assert.Empty(t, def.SnoqDimensions())
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestParseRejectsNameWithColon(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "bad:name", "measures": ["m"], "query_dimensions": [],
		"slice_dimensions": [], "mapping": {"m": {"type": "count", "resource": "r"}}
	}`))
	assert.Error(t, err)
}

func TestParseRejectsMissingMapping(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "n", "measures": ["m"], "query_dimensions": [], "slice_dimensions": []
	}`))
	assert.Error(t, err)
}

func TestParseRejectsUnexpectedTopLevelKey(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "n", "measures": ["m"], "query_dimensions": [], "slice_dimensions": [],
		"mapping": {"m": {"type": "count", "resource": "r"}}, "bogus": 1
	}`))
	assert.Error(t, err)
}

func TestParseRejectsScoreMeasureMissingField(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "n", "measures": ["m"], "query_dimensions": [], "slice_dimensions": [],
		"mapping": {"m": {"type": "score", "resource": "r"}}
	}`))
	assert.Error(t, err)
}

func TestParseRejectsConditionWithBothFilters(t *testing.T) {
	eq := any("x")
	_, err := Parse([]byte(`{
		"name": "n", "measures": ["m"], "query_dimensions": [], "slice_dimensions": [],
		"mapping": {"m": {"type": "count", "resource": "r", "conditions": [
			{"field": "status", "equals": "x", "not_equals": "y"}
		]}}
	}`))
	_ = eq
	assert.Error(t, err)
}

func TestParseRejectsUnmappedDimension(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "n", "measures": ["m"], "query_dimensions": ["Date"], "slice_dimensions": [],
		"mapping": {"m": {"type": "count", "resource": "r"}}
	}`))
	assert.Error(t, err)
}
