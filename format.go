package fastbit

// On-disk magic headers and type codes (spec §4.5, §4.6, §6).

// IndexMagic is the 6-byte prefix of the 8-byte header common to every
// index file: "#IBIS\x07" + typecode byte + sizeof(int32) byte.
var IndexMagic = [6]byte{'#', 'I', 'B', 'I', 'S', 0x07}

// IndexType identifies the on-disk encoding of an index file; readers
// dispatch on this byte (offset 6 of the 8-byte header).
type IndexType byte

const (
	// IndexRelic is the basic equality-encoded index (§4.5).
	IndexRelic IndexType = 2
	// IndexBylt is the range-equality coarse refinement (§4.6).
	IndexBylt IndexType = 3
	// IndexFuzz is the interval-equality coarse refinement (§4.6).
	IndexFuzz IndexType = 4
	// IndexZona is the equality-equality coarse refinement (§4.6).
	IndexZona IndexType = 5
)

func (t IndexType) String() string {
	switch t {
	case IndexRelic:
		return "relic"
	case IndexBylt:
		return "bylt"
	case IndexFuzz:
		return "fuzz"
	case IndexZona:
		return "zona"
	default:
		return "unknown"
	}
}

// DictionaryMagic is the 16-byte ASCII prefix of a dictionary file
// header; the full 20-byte header appends a little-endian version word
// (1 = v1, 0 = v0, absent entirely = raw).
var DictionaryMagic = [16]byte{'#', 'I', 'B', 'I', 'S', ' ', 'D', 'i', 'c', 't', 'i', 'o', 'n', 'a', 'r', 'y'}

// DictionaryVersion enumerates the on-disk dictionary layouts (§4.4).
type DictionaryVersion int

const (
	// DictRaw is NUL-terminated strings in code order, no header (and so
	// no version word on disk).
	DictRaw DictionaryVersion = -1
	// DictV0 uses 32-bit offsets and an out-of-order code array.
	DictV0 DictionaryVersion = 0
	// DictV1 uses 64-bit offsets, strictly code-ordered.
	DictV1 DictionaryVersion = 1
)

const (
	// int32Size is sizeof(int32) on the wire, used in the index header.
	int32Size = 4
	// alignBoundary is the padding boundary between an index header and
	// its value array (§4.5).
	alignBoundary = 8
)

func padTo(n, boundary int) int {
	rem := n % boundary
	if rem == 0 {
		return n
	}
	return n + (boundary - rem)
}
