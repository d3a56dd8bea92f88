package classify

import "testing"

func TestIsCelebrity(t *testing.T) {
	cases := []struct {
		name      string
		followers int64
		threshold int64
		want      bool
	}{
		{"below threshold", 99, 100, false},
		{"at threshold", 100, 100, true},
		{"above threshold", 101, 100, true},
		{"zero threshold always celebrity", 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCelebrity(tc.followers, tc.threshold); got != tc.want {
				t.Errorf("IsCelebrity(%d, %d) = %v, want %v", tc.followers, tc.threshold, got, tc.want)
			}
		})
	}
}
