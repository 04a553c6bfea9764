package rules_test

import (
	"testing"

	"github.com/openkraft/anvil/internal/domain/rules"
	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, id string
		want        bool
	}{
		{"tests/*", "tests/unit/test_a.py::test_x", true},
		{"*.py", "pkg/mod.py", true},
		{"flake8:*", "flake8:src/a.py", true},
		{"flake8:*", "pylint:src/a.py", false},
		{"test_?", "test_a", true},
		{"test_?", "test_ab", false},
		{"[ab]*", "beta", true},
		{"[!ab]*", "beta", false},
		{"a+b", "a+b", true},
		{"a.b", "axb", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.Match(tt.pattern, tt.id), "%s ~ %s", tt.pattern, tt.id)
	}
}

func TestMatchGroup_PrefixSemantics(t *testing.T) {
	assert.True(t, rules.MatchGroup([]string{"tests/test_a.py"}, "tests/test_a.py::test_one"))
	assert.False(t, rules.MatchGroup([]string{"tests/test_b.py"}, "tests/test_a.py::test_one"))
	assert.False(t, rules.MatchGroup(nil, "anything"))
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		patterns []string
		path     string
		want     bool
	}{
		{[]string{"vendor/"}, "vendor/lib/a.go", true},
		{[]string{"vendor/"}, "pkg/vendor/a.go", true},
		{[]string{"vendor/"}, "vendored.go", false},
		{[]string{"*_pb2.py"}, "api/gen/x_pb2.py", true},
		{[]string{"*_pb2.py"}, "api/gen/x.py", false},
		{[]string{"src/gen/*.cc"}, "src/gen/a.cc", true},
		{[]string{"src/gen"}, "src/gen/deep/a.cc", true},
		{[]string{"./build/"}, "build/out.cpp", true},
		{nil, "main.go", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.Excluded(tt.patterns, tt.path), "%v ~ %s", tt.patterns, tt.path)
	}
}
