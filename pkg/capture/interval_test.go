package capture

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizeInterval(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{1, 1},
		{0, 5},
		{-3, 5},
		{2, 5},
		{4, 5},
		{5, 5},
		{7, 5},
		{8, 10},
		{10, 10},
		{12, 10},
		{13, 15},
		{29, 30},
		{60, 60},
	}
	for _, tt := range tests {
		if got := NormalizeInterval(tt.in); got != tt.want {
			t.Errorf("NormalizeInterval(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIntervalProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("result is 1 or a multiple of 5 no smaller than 5", prop.ForAll(
		func(seconds int) bool {
			got := NormalizeInterval(seconds)
			if seconds == 1 {
				return got == 1
			}
			return got >= 5 && got%5 == 0
		},
		gen.IntRange(-100, 10000),
	))

	properties.Property("rounding never moves the value by more than 2", prop.ForAll(
		func(seconds int) bool {
			got := NormalizeInterval(seconds)
			diff := got - seconds
			if diff < 0 {
				diff = -diff
			}
			return diff <= 2
		},
		gen.IntRange(3, 10000),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(seconds int) bool {
			once := NormalizeInterval(seconds)
			return NormalizeInterval(once) == once
		},
		gen.IntRange(-100, 10000),
	))

	properties.TestingRun(t)
}
