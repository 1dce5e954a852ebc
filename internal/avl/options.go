package avl

// Options configures the frame codec. Shaped after pkg/jimi/options.go's
// functional-option pattern (DefaultOptions + With* mutators plus a
// couple of convenience bundles).
type Options struct {
	// StrictCRC rejects frames whose CRC-16/IBM trailer doesn't match
	// the computed checksum. Default false: a CRC mismatch is treated as
	// non-fatal (logged and counted) because field devices are known to
	// send inconsistent CRCs.
	StrictCRC bool

	// MaxDataFieldLength bounds the dataFieldLength field.
	MaxDataFieldLength int

	// MaxBufferBytes is the Framing Buffer's overflow cap.
	MaxBufferBytes int
}

// Option mutates an Options value.
type Option func(*Options)

// DefaultOptions returns the gateway's defaults: lenient CRC, 200_000
// byte data field cap, 1MiB buffer cap.
func DefaultOptions() Options {
	return Options{
		StrictCRC:          false,
		MaxDataFieldLength: 200_000,
		MaxBufferBytes:     1 << 20,
	}
}

// WithStrictCRC rejects frames with a mismatched CRC instead of merely
// counting them.
func WithStrictCRC() Option {
	return func(o *Options) { o.StrictCRC = true }
}

// WithMaxDataFieldLength overrides the dataFieldLength upper bound.
func WithMaxDataFieldLength(n int) Option {
	return func(o *Options) { o.MaxDataFieldLength = n }
}

// WithMaxBufferBytes overrides the Framing Buffer's overflow cap.
func WithMaxBufferBytes(n int) Option {
	return func(o *Options) { o.MaxBufferBytes = n }
}

// WithLenientMode is a convenience bundle that restores every lenient
// default explicitly, for callers assembling options from a partially
// strict baseline.
func WithLenientMode() Option {
	return func(o *Options) {
		o.StrictCRC = false
	}
}

// New builds an Options value from zero or more functional options.
func New(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
