package common

// RecordVersion is the current on-disk/ledger record format version.
const RecordVersion = 1

// Default protocol limits.
const (
	DefaultMaxFrameSize = 64 << 10
	MaxChunkSize        = 1 << 20
	DefaultChunkSize    = 32 << 10
)
