package dimension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInteger(t *testing.T) {
	v, err := Parse(TypeInteger, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	_, err = Parse(TypeInteger, "nope")
	assert.Error(t, err)
}

func TestParseString(t *testing.T) {
	v, err := Parse(TypeString, "  sparse string ")
	require.NoError(t, err)
	assert.Equal(t, "sparse string", v)

	_, err = Parse(TypeString, "some:text:with:colons")
	assert.Error(t, err)
}

func TestParseDateFamily(t *testing.T) {
	v, err := Parse(TypeDate, "2011-02-01 10:02:00")
	require.NoError(t, err)
	assert.Equal(t, "20110201", v)

	_, err = Parse(TypeDate, "")
	assert.Error(t, err)
}

func TestParseWeekSnapsToMonday(t *testing.T) {
	v, err := Parse(TypeWeek, "21-Sep-2011")
	require.NoError(t, err)
	assert.Equal(t, "20110919", v)
}

func TestParseMonth(t *testing.T) {
	v, err := Parse(TypeMonth, "1-Feb-2011")
	require.NoError(t, err)
	assert.Equal(t, "20110201", v)
}

func TestParseYear(t *testing.T) {
	v, err := Parse(TypeYear, "1-Feb-2011")
	require.NoError(t, err)
	assert.Equal(t, "20110101", v)
}

func TestExpandIntegerRangeAndSwap(t *testing.T) {
	set, err := Expand(TypeInteger, "1..5,10")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "10", "2", "3", "4", "5"}, SortedKeys(set))

	swapped, err := Expand(TypeInteger, "9..3")
	require.NoError(t, err)
	straight, err := Expand(TypeInteger, "3..9")
	require.NoError(t, err)
	assert.Equal(t, SortedKeys(straight), SortedKeys(swapped))
}

func TestExpandIntegerInvalid(t *testing.T) {
	_, err := Expand(TypeInteger, "try me")
	assert.Error(t, err)
}

func TestExpandStringRejectsRange(t *testing.T) {
	_, err := Expand(TypeString, "a..z")
	assert.Error(t, err)
}

func TestExpandStringList(t *testing.T) {
	set, err := Expand(TypeString, "alpha, beta, gamma")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, SortedKeys(set))
}

func TestExpandDateRange(t *testing.T) {
	set, err := Expand(TypeDate, "20110709..20110712")
	require.NoError(t, err)
	assert.Equal(t, []string{"20110709", "20110710", "20110711", "20110712"}, SortedKeys(set))
}

func TestExpandWeekRange(t *testing.T) {
	set, err := Expand(TypeWeek, "20110901..20110914")
	require.NoError(t, err)
	assert.Equal(t, []string{"20110829", "20110905", "20110912"}, SortedKeys(set))
}

func TestExpandMonthRange(t *testing.T) {
	set, err := Expand(TypeMonth, "Sep-2011..Feb-2012")
	require.NoError(t, err)
	assert.Equal(t, []string{"20110901", "20111001", "20111101", "20111201", "20120101", "20120201"}, SortedKeys(set))
}

func TestExpandYearRange(t *testing.T) {
	set, err := Expand(TypeYear, "2011..2014")
	require.NoError(t, err)
	assert.Equal(t, []string{"20110101", "20120101", "20130101", "20140101"}, SortedKeys(set))
}
