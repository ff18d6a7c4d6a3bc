package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemprep/backend/internal/registry"
)

func f(v float64) *float64 { return &v }

func TestReduceValue(t *testing.T) {
	tests := []struct {
		name   string
		result registry.Result
		want   *float64
	}{
		{
			name:   "lone lo value",
			result: registry.Result{LoValue: f(3.2), LoQualifier: "="},
			want:   f(3.2),
		},
		{
			name:   "lone lo value without qualifier",
			result: registry.Result{LoValue: f(3.2)},
			want:   f(3.2),
		},
		{
			name:   "lone up value",
			result: registry.Result{UpValue: f(7.5), UpQualifier: "="},
			want:   f(7.5),
		},
		{
			name:   "lo untrustworthy falls to up",
			result: registry.Result{LoValue: f(1.0), LoQualifier: ">", UpValue: f(9.0)},
			want:   f(9.0),
		},
		{
			name:   "interval midpoint",
			result: registry.Result{LoValue: f(10), UpValue: f(20)},
			want:   f(15),
		},
		{
			name:   "interval with tolerable error",
			result: registry.Result{LoValue: f(10), UpValue: f(20), ErrorValue: f(3)},
			want:   f(15),
		},
		{
			name: "interval with dominating error falls to up bound",
			// error 15 >= |20-10|, so the interval is rejected
			result: registry.Result{LoValue: f(10), UpValue: f(20), ErrorValue: f(15)},
			want:   f(20),
		},
		{
			name:   "inverted interval falls to up bound",
			result: registry.Result{LoValue: f(20), UpValue: f(10)},
			want:   f(10),
		},
		{
			name:   "error as last resort",
			result: registry.Result{ErrorValue: f(0.5)},
			want:   f(0.5),
		},
		{
			name:   "untrustworthy bounds fall to error",
			result: registry.Result{LoValue: f(1), LoQualifier: ">=", UpValue: f(2), UpQualifier: "<", ErrorValue: f(4)},
			want:   f(4),
		},
		{
			name:   "nothing usable",
			result: registry.Result{LoQualifier: ">", TextValue: "not detected"},
			want:   nil,
		},
		{
			name:   "tilde qualifier rejects lo",
			result: registry.Result{LoValue: f(3), LoQualifier: "~"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReduceValue(tt.result)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestReduceValueMidpointExact(t *testing.T) {
	got := ReduceValue(registry.Result{LoValue: f(0.1), UpValue: f(0.3), ErrorValue: f(0.1)})
	require.NotNil(t, got)
	assert.InDelta(t, 0.2, *got, 1e-15)
}
