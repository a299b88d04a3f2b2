package ardop

import (
	"sync"
)

// TncInfo is a point-in-time copy of a TncState. Nothing in it stays current
// once it has been returned.
type TncInfo struct {
	Name       string
	MyCall     string
	GridSquare string

	// ARQBandwidth is the bandwidth setting as sent to the TNC, for
	// example "500MAX" or "2500". ARQBandwidthHz is its numeric part.
	ARQBandwidth   string
	ARQBandwidthHz int

	FECMode    string
	FECRepeats int
	FECID      bool

	RemoteCall  string
	RemoteGrid  string
	TargetCall  string
	ConnectedBW string

	Busy bool
	PTT  bool

	Listen  bool
	PingAck bool

	Squelch  int
	BusyDet  int
	Leader   int
	Trailer  int
	TncState State

	Version Version

	// Buffer is the number of bytes the TNC reports as queued for
	// transmission.
	Buffer int

	BytesIn  uint64
	BytesOut uint64
}

// TncState is the shared, mutable record describing one attached TNC. It is
// written by the command channel decoder and by user commands and read by
// nearly every other component. All access goes through its methods.
type TncState struct {
	info TncInfo
	mu   sync.Mutex
}

// NewTncState creates the state record for a TNC slot from its configured
// settings.
func NewTncState(initial TncInfo) *TncState {
	if initial.ARQBandwidthHz == 0 {
		initial.ARQBandwidthHz = BandwidthHz(initial.ARQBandwidth)
	}

	return &TncState{info: initial}
}

// Snapshot returns a copy of the current state.
func (s *TncState) Snapshot() TncInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info
}

// Update applies fn to the state while holding the lock. fn must not block
// or call back into the TncState.
func (s *TncState) Update(fn func(info *TncInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.info)
}

// MyCall returns the station call sign.
func (s *TncState) MyCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.MyCall
}

// Buffer returns the TNC transmit buffer occupancy.
func (s *TncState) Buffer() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.Buffer
}

// SetBuffer records the TNC transmit buffer occupancy.
func (s *TncState) SetBuffer(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Buffer = n
}

// PTT reports whether the TNC is keying the transmitter.
func (s *TncState) PTT() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.PTT
}

// ARQBandwidth returns the current ARQ bandwidth setting.
func (s *TncState) ARQBandwidth() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.ARQBandwidth
}

// SetARQBandwidth records a new ARQ bandwidth setting and its numeric form.
func (s *TncState) SetARQBandwidth(bw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.ARQBandwidth = bw
	s.info.ARQBandwidthHz = BandwidthHz(bw)
}

// Version returns the last decoded TNC version.
func (s *TncState) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.Version
}

// AddBytesIn adds to the received byte counter of the current session.
func (s *TncState) AddBytesIn(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.BytesIn += uint64(n)
}

// AddBytesOut adds to the sent byte counter of the current session.
func (s *TncState) AddBytesOut(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.BytesOut += uint64(n)
}

// ResetSession clears the per-session fields after a connect or disconnect.
func (s *TncState) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.BytesIn = 0
	s.info.BytesOut = 0
}
