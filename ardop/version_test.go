package ardop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in          string
		major       int
		minor       int
		revision    int
		vendor      byte
		negotiateBW bool
	}{
		{"2.0.4-ARDOP_2Win", 2, 0, 4, 'W', true},
		{"2.1.0-ARDOP_2Win", 2, 1, 0, 'W', true},
		{"2.0.3-ARDOP_2Win", 2, 0, 3, 'W', false},
		{"1.0.4.1ae-ARDOP_Win", 1, 0, 4, 'W', false},
		{"1.0.2_ARDOPC", 1, 0, 2, 'C', false},
		{"2.0.4 ARDOP_2Linux", 2, 0, 4, 'L', false},
		{"2.0", 2, 0, 0, 0, false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.in, func(t *testing.T) {
			t.Parallel()

			v, err := ParseVersion(test.in)
			require.NoError(t, err)
			require.Equal(t, test.major, v.Major)
			require.Equal(t, test.minor, v.Minor)
			require.Equal(t, test.revision, v.Revision)
			require.Equal(t, test.vendor, v.Vendor)
			require.Equal(t, test.negotiateBW, v.SupportsNegotiateBW())
			require.Equal(t, test.in, v.String())
		})
	}

	_, err := ParseVersion("ARDOP")
	require.Error(t, err)
}

func TestVersionWhitelists(t *testing.T) {
	t.Parallel()

	require.True(t, ValidFECMode(1, "4fsk.2000.600"))
	require.False(t, ValidFECMode(2, "4FSK.2000.600"))
	require.True(t, ValidFECMode(2, "4FSK.2500.600"))

	require.True(t, ValidARQBandwidth(1, "2000MAX"))
	require.False(t, ValidARQBandwidth(2, "2000MAX"))
	require.True(t, ValidARQBandwidth(2, "2500"))

	require.Equal(t, "500MAX", DefaultARQBandwidth(1))
	require.Equal(t, "500", DefaultARQBandwidth(2))

	require.Equal(t, 500, BandwidthHz("500MAX"))
	require.Equal(t, 2500, BandwidthHz("2500"))
	require.Zero(t, BandwidthHz("MAX"))
}
