package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBoundaryFormat(t *testing.T) {
	// The textual form is a boundary contract: 8 decimal digits, no spaces.
	assert.Equal(t, "[0.50000000,-0.25000000,1.00000000]", Encode([]float32{0.5, -0.25, 1}))
	assert.Equal(t, "[]", Encode(nil))
}

func TestDecodeRoundTrip(t *testing.T) {
	in := []float32{0.12345678, -0.5, 0, 3.25}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-6)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, s := range []string{"", "0.1,0.2", "[0.1,0.2", "[a,b]"} {
		_, err := Decode(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	// Zero vector stays zero rather than producing NaNs.
	assert.Equal(t, []float32{0, 0, 0}, Normalize([]float32{0, 0, 0}))
}

func TestDot(t *testing.T) {
	assert.InDelta(t, 1.0, Dot([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Dot([]float32{1}, []float32{1, 2}))
}
