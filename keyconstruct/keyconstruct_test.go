package keyconstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	cases := []struct {
		name string
		args []any
		want string
	}{
		{"empty", nil, ""},
		{"single with empty nested", []any{"Activity", []string{""}}, "Activity"},
		{"flat nested", []any{"Activity", []string{"Month", "20111101"}, []string{}}, "Activity:Month:20111101"},
		{"two nested", []any{"Activity", []string{"Month", "20111101"}, []string{"Practice", "1"}}, "Activity:Month:20111101:Practice:1"},
		{"already joined scalars", []any{"Activity", "Month:20111101", "Practice:1"}, "Activity:Month:20111101:Practice:1"},
		{"nil dropped", []any{"Activity", []string{"Month", "20111101"}, nil}, "Activity:Month:20111101"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Build(c.args...))
		})
	}
}

func TestBuildIdempotence(t *testing.T) {
	a := Build("a", "b", "c")
	b := Build([]string{"a", "b", "c"})
	c := Build("a", []string{"b"}, "c")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}
