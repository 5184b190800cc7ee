package fastbit

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Dictionary is a dual-direction mapping between strings and 32-bit
// codes (spec §2 Dictionary, ported from ibis::dictionary in
// original_source/src/dictionary.{h,cpp}). Codes are 1-indexed: slot 0
// of raw is permanently reserved for NULL/unknown, matching the
// original's raw[0]==nullptr invariant. Entries are append-only except
// through Sort/Merge/Morph, which rewrite the whole table.
type Dictionary struct {
	raw []string          // code -> string; raw[0] is the reserved "" slot
	key map[string]uint32 // string -> code, codes 1..N
}

// NewDictionary returns an empty dictionary (just the reserved slot 0).
func NewDictionary() *Dictionary {
	return &Dictionary{raw: []string{""}, key: make(map[string]uint32)}
}

// dictionaryFromRaw builds a Dictionary directly from a code-ordered
// string slice that already includes the reserved slot 0, used by the
// on-disk readers which reconstruct raw in one pass instead of
// inserting one code at a time.
func dictionaryFromRaw(raw []string) *Dictionary {
	if len(raw) == 0 {
		raw = []string{""}
	}
	d := &Dictionary{raw: raw, key: make(map[string]uint32, len(raw))}
	for i, s := range raw {
		if i == 0 || s == "" {
			continue
		}
		d.key[s] = uint32(i)
	}
	return d
}

// Size returns the number of real entries (N), excluding the reserved
// NULL slot.
func (d *Dictionary) Size() int { return len(d.raw) - 1 }

// String returns the string for code i, or "" if i is out of range or
// is the reserved NULL code 0, matching operator[](uint32_t).
func (d *Dictionary) String(i uint32) string {
	if int(i) >= len(d.raw) {
		return ""
	}
	return d.raw[i]
}

// Code returns the integer code for str: 0 if str is NULL/empty, N+1
// if str is a non-empty string absent from the dictionary, or its
// assigned code otherwise, matching operator[](const char*)'s
// raw[0]==NULL / "unknown lookup returns N+1" contract.
func (d *Dictionary) Code(str string) uint32 {
	if str == "" {
		return 0
	}
	if c, ok := d.key[str]; ok {
		return c
	}
	return uint32(len(d.raw))
}

// Find returns (str, true) if str is present in the dictionary,
// matching dictionary::find.
func (d *Dictionary) Find(str string) (string, bool) {
	c, ok := d.key[str]
	if !ok {
		return "", false
	}
	return d.raw[c], true
}

// Insert adds str if absent and returns its code, matching
// dictionary::insert/insertRaw (Go strings are always validly
// null-free, so no insertRaw/insert distinction is needed). Inserting
// the empty string is a no-op that returns the reserved code 0.
func (d *Dictionary) Insert(str string) uint32 {
	if str == "" {
		return 0
	}
	if c, ok := d.key[str]; ok {
		return c
	}
	code := uint32(len(d.raw))
	d.raw = append(d.raw, str)
	d.key[str] = code
	return code
}

// AppendOrdered adds str, which the caller guarantees sorts after every
// existing entry, without a map lookup, matching
// dictionary::appendOrdered — used by callers building dictionaries
// from already-sorted data one code at a time.
func (d *Dictionary) AppendOrdered(str string) uint32 {
	code := uint32(len(d.raw))
	d.raw = append(d.raw, str)
	if str != "" {
		d.key[str] = code
	}
	return code
}

// Clear empties the dictionary back to just the reserved slot 0.
func (d *Dictionary) Clear() {
	d.raw = []string{""}
	d.key = make(map[string]uint32)
}

// Equal reports whether two dictionaries hold the same code->string
// mapping, matching dictionary::equal_to.
func (d *Dictionary) Equal(rhs *Dictionary) bool {
	if len(d.raw) != len(rhs.raw) {
		return false
	}
	for i := range d.raw {
		if d.raw[i] != rhs.raw[i] {
			return false
		}
	}
	return true
}

// Sort reorders entries lexicographically and returns the old->new code
// permutation (o2n[oldCode] = newCode), matching dictionary::sort.
func (d *Dictionary) Sort() []uint32 {
	n := len(d.raw)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return d.raw[order[i]] < d.raw[order[j]]
	})

	o2n := make([]uint32, n)
	newRaw := make([]string, n)
	for newCode, oldCode := range order {
		o2n[oldCode] = uint32(newCode)
		newRaw[newCode] = d.raw[oldCode]
	}
	d.raw = newRaw
	for code, s := range d.raw {
		if code == 0 {
			continue
		}
		d.key[s] = uint32(code)
	}
	return o2n
}

// Merge folds rhs's entries into d, adding any string rhs has that d
// does not, matching dictionary::merge.
func (d *Dictionary) Merge(rhs *Dictionary) {
	for _, s := range rhs.raw {
		d.Insert(s)
	}
}

// Morph computes, for each code in old, the corresponding code in d
// (0 for old's reserved NULL slot, N+1 if old's string is absent from
// d), matching dictionary::morph. d is typically the merged/superset
// dictionary.
func (d *Dictionary) Morph(old *Dictionary) []uint32 {
	out := make([]uint32, len(old.raw))
	for i, s := range old.raw {
		out[i] = d.Code(s)
	}
	return out
}

// PatternSearch returns the codes of every entry matching the SQL-
// LIKE-style pattern pat (supporting %, _, *, ?, and \ escape),
// matching dictionary::patternSearch / ibis::util::strMatch.
func (d *Dictionary) PatternSearch(pat string) []uint32 {
	var matches []uint32
	for code := 1; code < len(d.raw); code++ {
		if strMatch(d.raw[code], pat) {
			matches = append(matches, uint32(code))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	return matches
}

// strMatch reports whether str matches pat using SQL LIKE / C-shell
// glob metacharacters (%, * = any run of characters; _, ? = exactly one
// character; \ = escape the next character), case-insensitively,
// ported from ibis::util::strMatch in util.cpp.
func strMatch(str, pat string) bool {
	if pat == "" {
		return str == ""
	}
	return strMatchFold(strings.ToUpper(str), strings.ToUpper(pat))
}

func strMatchFold(str, pat string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '\\':
			if len(pat) < 2 {
				return false
			}
			if len(str) == 0 || str[0] != pat[1] {
				return false
			}
			str, pat = str[1:], pat[2:]
		case '_', '?':
			if len(str) == 0 {
				return false
			}
			str, pat = str[1:], pat[1:]
		case '*', '%':
			// collapse consecutive any-wildcards
			for len(pat) > 0 && (pat[0] == '*' || pat[0] == '%') {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(str); i++ {
				if strMatchFold(str[i:], pat) {
					return true
				}
			}
			return false
		default:
			if len(str) == 0 || str[0] != pat[0] {
				return false
			}
			str, pat = str[1:], pat[1:]
		}
	}
	return len(str) == 0
}

// Write serializes the dictionary to name in the v1 on-disk format
// (64-bit offsets, strictly code-ordered), matching dictionary::write.
func (d *Dictionary) Write(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIOError, name, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if _, err := w.Write(DictionaryMagic[:]); err != nil {
		return fmt.Errorf("%w: write dictionary header: %v", ErrIOError, err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(DictV1)); err != nil {
		return fmt.Errorf("%w: write dictionary version: %v", ErrIOError, err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(d.raw))); err != nil {
		return fmt.Errorf("%w: write dictionary count: %v", ErrIOError, err)
	}

	var offsets []int64
	var blob []byte
	var cur int64
	for _, s := range d.raw {
		offsets = append(offsets, cur)
		blob = append(blob, s...)
		blob = append(blob, 0)
		cur += int64(len(s)) + 1
	}
	offsets = append(offsets, cur) // sentinel, end of last string

	if err := binary.Write(w, binary.LittleEndian, offsets); err != nil {
		return fmt.Errorf("%w: write dictionary offsets: %v", ErrIOError, err)
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("%w: write dictionary strings: %v", ErrIOError, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush dictionary: %v", ErrIOError, err)
	}
	return nil
}

// ReadDictionary loads a dictionary file written by Write, dispatching
// on its header to one of the three on-disk layouts, matching
// dictionary::read's readRaw/readKeys0/readKeys1 dispatch.
func ReadDictionary(name string) (*Dictionary, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOError, name, err)
	}
	defer f.Close()

	var magic [16]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil || n < 16 || magic != DictionaryMagic {
		logMessage(2, "dictionary", "%s: no recognized header, falling back to raw NUL-terminated layout", name)
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("%w: seek %s: %v", ErrIOError, name, seekErr)
		}
		return readRaw(f)
	}

	var version int32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read dictionary version: %v", ErrBadFormat, err)
	}
	switch DictionaryVersion(version) {
	case DictV1:
		return readKeysV1(f)
	case DictV0:
		return readKeysV0(f)
	default:
		return nil, fmt.Errorf("%w: unknown dictionary version %d", ErrBadFormat, version)
	}
}

// readRaw loads the header-less layout: NUL-terminated strings in code
// order, matching dictionary::readRaw.
func readRaw(f *os.File) (*Dictionary, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %v", ErrIOError, err)
	}
	var raw []string
	start := 0
	for i, b := range data {
		if b == 0 {
			raw = append(raw, string(data[start:i]))
			start = i + 1
		}
	}
	return dictionaryFromRaw(raw), nil
}

// readKeysV1 loads the 64-bit-offset, code-ordered layout, matching
// dictionary::readKeys1.
func readKeysV1(f *os.File) (*Dictionary, error) {
	var count int64
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read dictionary count: %v", ErrBadFormat, err)
	}
	offsets := make([]int64, count+1)
	if err := binary.Read(f, binary.LittleEndian, &offsets); err != nil {
		return nil, fmt.Errorf("%w: read dictionary offsets: %v", ErrBadFormat, err)
	}
	blob, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read dictionary strings: %v", ErrIOError, err)
	}

	raw := make([]string, count)
	for i := int64(0); i < count; i++ {
		lo, hi := offsets[i], offsets[i+1]-1 // -1 to drop the NUL terminator
		if lo < 0 || hi > int64(len(blob)) || lo > hi {
			return nil, fmt.Errorf("%w: dictionary offset out of range", ErrBadFormat)
		}
		raw[i] = string(blob[lo:hi])
	}
	return dictionaryFromRaw(raw), nil
}

// readKeysV0 loads the legacy 32-bit-offset, insertion-ordered (not
// necessarily code-ordered) layout, matching dictionary::readKeys0.
// v0 stores codes explicitly alongside each offset since code order may
// differ from storage order.
func readKeysV0(f *os.File) (*Dictionary, error) {
	var count int32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read dictionary count: %v", ErrBadFormat, err)
	}

	type entry struct {
		code   uint32
		offset int32
	}
	entries := make([]entry, count)
	for i := range entries {
		if err := binary.Read(f, binary.LittleEndian, &entries[i].code); err != nil {
			return nil, fmt.Errorf("%w: read dictionary code: %v", ErrBadFormat, err)
		}
		if err := binary.Read(f, binary.LittleEndian, &entries[i].offset); err != nil {
			return nil, fmt.Errorf("%w: read dictionary offset: %v", ErrBadFormat, err)
		}
	}
	blob, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read dictionary strings: %v", ErrIOError, err)
	}

	maxCode := uint32(0)
	for _, e := range entries {
		if e.code > maxCode {
			maxCode = e.code
		}
	}
	raw := make([]string, maxCode+1)
	for i, e := range entries {
		end := int32(len(blob))
		if i+1 < len(entries) {
			end = entries[i+1].offset - 1
		} else {
			for j := e.offset; j < int32(len(blob)); j++ {
				if blob[j] == 0 {
					end = j
					break
				}
			}
		}
		raw[e.code] = string(blob[e.offset:end])
	}

	return dictionaryFromRaw(raw), nil
}
