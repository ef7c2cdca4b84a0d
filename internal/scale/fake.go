package scale

// FakeSource is a RawSource that returns whatever it was last told to.
type FakeSource struct {
	Raw   int32
	Ready bool
	Reads int
}

// NewFakeSource returns a ready source reading raw.
func NewFakeSource(raw int32) *FakeSource {
	return &FakeSource{Raw: raw, Ready: true}
}

// Available implements RawSource.
func (f *FakeSource) Available() bool { return f.Ready }

// Read implements RawSource.
func (f *FakeSource) Read() int32 {
	f.Reads++
	return f.Raw
}

// Set changes the reading returned from now on.
func (f *FakeSource) Set(raw int32) { f.Raw = raw }
