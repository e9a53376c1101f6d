package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionPassed(t *testing.T) {
	cases := []struct {
		name      string
		score     int
		passScore int
		want      bool
	}{
		{"above threshold", 8, 6, true},
		{"exactly at threshold", 6, 6, true},
		{"below threshold", 5, 6, false},
		{"zero pass score always passes", 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &Submission{Score: tc.score}
			assert.Equal(t, tc.want, sub.Passed(tc.passScore))
		})
	}
}
