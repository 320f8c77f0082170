package transcode

import "testing"

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		size int
		want float64
	}{
		{0, 5},        // below floor
		{1000, 5},     // 1s estimate clamps up
		{5000, 5},     // exactly the floor
		{12000, 12},   // in range
		{30000, 30},   // exactly the ceiling
		{5000000, 30}, // clamps down
	}
	for _, tt := range tests {
		if got := estimateDuration(tt.size); got != tt.want {
			t.Errorf("estimateDuration(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("bad input\nmore detail\n"); got != "bad input" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("  single  "); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}
