package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFieldsTail pins down tail extraction for commands like .migrate,
// which must survive irregular spacing between their arguments.
func TestFieldsTail(t *testing.T) {
	cases := []struct {
		name string
		line string
		n    int
		want string
	}{
		{"single spaces", ".migrate 1.0 2.0 ALTER TABLE t ADD COLUMN x TEXT", 3, "ALTER TABLE t ADD COLUMN x TEXT"},
		{"doubled spaces", ".migrate  1.0   2.0  ALTER TABLE t ADD COLUMN x TEXT", 3, "ALTER TABLE t ADD COLUMN x TEXT"},
		{"tabs", ".migrate\t1.0\t2.0\tDROP TABLE t", 3, "DROP TABLE t"},
		{"no tail", ".migrate 1.0 2.0", 3, ""},
		{"too few fields", ".migrate 1.0", 3, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, fieldsTail(tc.line, tc.n))
		})
	}
}
