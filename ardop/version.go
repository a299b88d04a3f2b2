package ardop

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Version is the decoded reply to a VERSION command, for example
// "2.0.4-ARDOP_2Win" gives Major 2, Minor 0, Revision 4 and Vendor 'W'.
type Version struct {
	Major    int
	Minor    int
	Revision int

	// Vendor is the first letter of the implementation name after any
	// "ARDOP_" prefix and protocol digits. Zero if none was given.
	Vendor byte

	Raw string
}

// ParseVersion decodes a version string. Only the leading numeric fields are
// required.
func ParseVersion(s string) (Version, error) {
	v := Version{Raw: s}

	s = strings.TrimSpace(s)
	numbers := s
	vendor := ""
	if i := strings.IndexAny(s, "-_ "); i >= 0 {
		numbers = s[:i]
		vendor = s[i+1:]
	}

	fields := strings.Split(numbers, ".")
	if len(fields) == 0 || fields[0] == "" {
		return v, fmt.Errorf("invalid version %q", s)
	}

	dst := []*int{&v.Major, &v.Minor, &v.Revision}
	for i, f := range fields {
		if i >= len(dst) {
			break
		}

		n, err := strconv.Atoi(f)
		if err != nil {
			// Trailing build suffixes such as "1ae" end the
			// numeric part.
			if i == 0 {
				return v, fmt.Errorf("invalid version %q: %w",
					s, err)
			}
			break
		}
		*dst[i] = n
	}

	vendor = strings.TrimPrefix(strings.ToUpper(vendor), "ARDOP_")
	vendor = strings.TrimPrefix(vendor, "ARDOP")
	vendor = strings.TrimLeftFunc(vendor, unicode.IsDigit)
	if vendor != "" {
		v.Vendor = vendor[0]
	}

	return v, nil
}

// String returns the raw version text.
func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}

	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// SupportsNegotiateBW reports whether the TNC accepts the NEGOTIATEBW
// command. Only the Windows ARDOP 2 build from 2.0.4 onwards does.
func (v Version) SupportsNegotiateBW() bool {
	if v.Vendor != 'W' || v.Major != 2 {
		return false
	}

	return v.Minor > 0 || v.Revision >= 4
}

var fecModesV1 = []string{
	"4FSK.200.50S", "4PSK.200.100S", "4PSK.200.100", "8PSK.200.100",
	"16QAM.200.100", "4FSK.500.100S", "4FSK.500.100", "4PSK.500.100",
	"8PSK.500.100", "16QAM.500.100", "4PSK.1000.100", "8PSK.1000.100",
	"16QAM.1000.100", "4PSK.2000.100", "8PSK.2000.100", "16QAM.2000.100",
	"4FSK.2000.600", "4FSK.2000.600S",
}

var fecModesV2 = []string{
	"4FSK.200.50S", "4PSK.200.100S", "4PSK.200.100", "8PSK.200.100",
	"16QAM.200.100", "4FSK.500.100S", "4FSK.500.100", "4PSK.500.100",
	"8PSK.500.100", "16QAM.500.100", "4PSK.2500.100", "8PSK.2500.100",
	"16QAM.2500.100", "4FSK.2500.600",
}

var arqBandwidthsV1 = []string{
	"200MAX", "500MAX", "1000MAX", "2000MAX",
	"200FORCED", "500FORCED", "1000FORCED", "2000FORCED",
}

var arqBandwidthsV2 = []string{"200", "500", "2500"}

const (
	defaultFECModeV1 = "4PSK.500.100"
	defaultFECModeV2 = "4PSK.500.100"
	defaultARQBWV1   = "500MAX"
	defaultARQBWV2   = "500"
)

// FECModes returns the FEC modes the given protocol major version accepts.
func FECModes(major int) []string {
	if major >= 2 {
		return fecModesV2
	}

	return fecModesV1
}

// ARQBandwidths returns the ARQ bandwidth settings the given protocol major
// version accepts.
func ARQBandwidths(major int) []string {
	if major >= 2 {
		return arqBandwidthsV2
	}

	return arqBandwidthsV1
}

// DefaultFECMode returns the FEC mode used when the configured one is not
// valid for the TNC version.
func DefaultFECMode(major int) string {
	if major >= 2 {
		return defaultFECModeV2
	}

	return defaultFECModeV1
}

// DefaultARQBandwidth returns the ARQ bandwidth used when the configured one
// is not valid for the TNC version.
func DefaultARQBandwidth(major int) string {
	if major >= 2 {
		return defaultARQBWV2
	}

	return defaultARQBWV1
}

// ValidFECMode reports whether mode is accepted by the given major version.
func ValidFECMode(major int, mode string) bool {
	return contains(FECModes(major), mode)
}

// ValidARQBandwidth reports whether bw is accepted by the given major
// version.
func ValidARQBandwidth(major int, bw string) bool {
	return contains(ARQBandwidths(major), bw)
}

// BandwidthHz extracts the numeric part of a bandwidth setting such as
// "500MAX" or "2500". It returns 0 if there is none.
func BandwidthHz(bw string) int {
	end := 0
	for end < len(bw) && bw[end] >= '0' && bw[end] <= '9' {
		end++
	}

	hz, err := strconv.Atoi(bw[:end])
	if err != nil {
		return 0
	}

	return hz
}

func contains(list []string, s string) bool {
	s = strings.ToUpper(s)
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
