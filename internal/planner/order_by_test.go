package planner

import "testing"

func TestNormalizeOrderBy(t *testing.T) {
	tests := []struct {
		raw      string
		want     string
		accepted bool
	}{
		{"created_at DESC", "created_at DESC", true},
		{" customer.region, id asc ", "customer.region, id asc", true},
		{"", "", true},
		{"   ", "", true},
		{"1; DROP TABLE x", "", false},
		{"id DESC -- comment", "", false},
		{"(SELECT 1)", "", false},
		{"name`", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, accepted := NormalizeOrderBy(tt.raw)
			if got != tt.want || accepted != tt.accepted {
				t.Errorf("NormalizeOrderBy(%q) = (%q, %v), want (%q, %v)", tt.raw, got, accepted, tt.want, tt.accepted)
			}
		})
	}
}
