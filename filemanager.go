package fastbit

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// MapHint tells GetFile/TryGetFile whether the caller would prefer a
// memory-mapped or read-into-memory Storage, matching spec §4.1's
// "{MMAP_LARGE, PREFER_READ, PREFER_MMAP}" hint set.
type MapHint int

const (
	// PreferRead always reads the file into memory when the open-file
	// budget allows it; the zero value, and the default for callers that
	// don't care about mapping.
	PreferRead MapHint = iota
	// PreferMmap maps the file whenever the mapped-file limit isn't
	// already exhausted, regardless of size.
	PreferMmap
	// MMAPLarge maps the file only if it is at least as large as
	// minMapSize and at least as large as the biggest file already
	// mapped, avoiding a mix of a few huge maps and many tiny ones.
	MMAPLarge
)

// FileManager is the process-wide registry of read-only file content
// that backs Storage objects (spec §4.1). It hands out already-resident
// Storage for a previously opened file, maps or reads new files under a
// global byte budget, and evicts the least valuable entries (by score,
// ported from ibis::fileManager::roFile::score in
// original_source/src/fileManager.h) when the budget is exceeded.
type FileManager struct {
	mu       sync.Mutex
	files    map[string]*roFile
	segments *segmentCache

	nextFileID    uint64
	nextCleanerID uint64

	maxBytes     uint64
	maxOpenFiles int
	minMapSize   int64

	totalBytes    uint64
	openFiles     int
	mappedFiles   int
	largestMapped int64

	// opening tracks names currently being stat/read/mapped by some
	// goroutine, so a concurrent GetFile for the same name waits on
	// freedCh instead of duplicating the I/O (spec §4.1 getFile).
	opening map[string]bool
	// freedCh is closed and replaced by every SignalMemoryAvailable call
	// (an EndUse that drops the last reference, the end of each getFile
	// open attempt, or an explicit caller), waking anyone blocked waiting
	// for budget (spec's "manager condition variable").
	freedCh chan struct{}
	waiting bool

	unloadTimeout time.Duration

	cleaners []cleanerEntry
}

type cleanerEntry struct {
	id uint64
	fn func() uint64
}

// roFile is one entry in the FileManager registry: either the whole
// content of a read-only file, read into memory or memory-mapped,
// wrapped in a Storage for reference-counted sharing.
type roFile struct {
	name    string
	id      uint64
	storage *Storage

	opened  time.Time
	lastUse time.Time
	nacc    uint64

	isMapped  bool
	mmapData  []byte
	fd        int
	closeFile *os.File
}

var (
	globalFileManagerOnce sync.Once
	globalFileManager     *FileManager
)

// defaultFileManager returns the process-wide FileManager, constructing
// it on first use from the ambient GlobalConfig (fileManager.maxBytes,
// fileManager.maxOpenFiles, fileManager.minMapSize).
func defaultFileManager() *FileManager {
	globalFileManagerOnce.Do(func() {
		cfg := GlobalConfig()
		maxBytes := uint64(cfg.IntOr(cfgMaxBytes, int64(defaultMaxBytes())))
		maxOpenFiles := int(cfg.IntOr(cfgMaxOpenFiles, int64(defaultMaxOpenFiles())))
		fm := NewFileManager(maxBytes, maxOpenFiles)
		if minMap := cfg.IntOr(cfgMinMapSize, 0); minMap > 0 {
			fm.minMapSize = minMap
		}
		globalFileManager = fm
	})
	return globalFileManager
}

// NewFileManager constructs a FileManager with an explicit byte budget
// and open-file limit; most callers use defaultFileManager via Init.
func NewFileManager(maxBytes uint64, maxOpenFiles int) *FileManager {
	return &FileManager{
		files:         make(map[string]*roFile),
		segments:      newSegmentCache(1024),
		maxBytes:      maxBytes,
		maxOpenFiles:  maxOpenFiles,
		minMapSize:    1 << 20,
		opening:       make(map[string]bool),
		freedCh:       make(chan struct{}),
		unloadTimeout: 60 * time.Second,
	}
}

// CurrentCacheSize reports the configured byte budget.
func (fm *FileManager) CurrentCacheSize() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.maxBytes
}

// BytesFree reports how much of the byte budget remains unused.
func (fm *FileManager) BytesFree() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.maxBytes > fm.totalBytes {
		return fm.maxBytes - fm.totalBytes
	}
	return 0
}

// SetMaxBytes adjusts the byte budget, triggering eviction immediately
// if the new budget is smaller than current usage.
func (fm *FileManager) SetMaxBytes(n uint64) {
	fm.mu.Lock()
	fm.maxBytes = n
	fm.mu.Unlock()
	fm.reclaim(0)
}

// AddCleaner registers a callback FileManager invokes under memory
// pressure (spec §4.1 "notify cleaners"); it must return the number of
// bytes it released. Roughly equivalent to ibis::fileManager's
// registered list of ibis::fileManager::cleaner instances. The returned
// id can be passed to RemoveCleaner.
func (fm *FileManager) AddCleaner(clean func() uint64) uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.nextCleanerID++
	id := fm.nextCleanerID
	fm.cleaners = append(fm.cleaners, cleanerEntry{id: id, fn: clean})
	return id
}

// RemoveCleaner unregisters a cleaner previously added by AddCleaner.
// Removing an id that is not registered (including twice) is a no-op.
func (fm *FileManager) RemoveCleaner(id uint64) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i, c := range fm.cleaners {
		if c.id == id {
			fm.cleaners = append(fm.cleaners[:i:i], fm.cleaners[i+1:]...)
			return
		}
	}
}

// SignalMemoryAvailable broadcasts to any goroutine blocked in GetFile
// waiting for budget that memory may have been freed externally (spec
// §4.1 signalMemoryAvailable), e.g. by a caller that dropped a large
// anonymous Storage outside of FileManager's own bookkeeping.
func (fm *FileManager) SignalMemoryAvailable() {
	fm.mu.Lock()
	close(fm.freedCh)
	fm.freedCh = make(chan struct{})
	fm.mu.Unlock()
}

// GetFile returns a Storage wrapping the whole content of name, reusing
// an already-resident copy when present (spec §4.1 getFile). The
// returned Storage carries one active reference; callers must pass it
// to EndUse when done so eviction can reclaim it once refcount==0.
// GetFile waits (rather than duplicating work) if another goroutine is
// already opening the same name, giving up with ErrBusy if that opener
// is still not done after a full unload timeout, and waits up to
// roughly a quarter of the unload timeout for budget to free up if the
// byte budget is currently exhausted, giving up with ErrOutOfBudget.
func (fm *FileManager) GetFile(name string, hint MapHint) (*Storage, error) {
	return fm.getFile(name, hint, true)
}

// TryGetFile is GetFile's non-blocking variant: it returns ErrWouldBlock
// immediately if another goroutine is already opening name, or
// ErrOutOfBudget immediately if the byte budget cannot be freed without
// waiting, rather than blocking in either case (spec §4.1 tryGetFile).
func (fm *FileManager) TryGetFile(name string, hint MapHint) (*Storage, error) {
	return fm.getFile(name, hint, false)
}

// EndUse releases the reference GetFile/TryGetFile handed out for name's
// Storage and, once the last reference drops, signals waiters that
// budget may now be available (spec §4.1 "endUse decrements and on zero
// broadcasts the manager's condition variable").
func (fm *FileManager) EndUse(st *Storage) {
	st.EndUse()
	if st.InUse() <= 0 {
		fm.SignalMemoryAvailable()
	}
}

func (fm *FileManager) getFile(name string, hint MapHint, wait bool) (*Storage, error) {
	fm.mu.Lock()
	for {
		if rf, ok := fm.files[name]; ok {
			rf.beginUse()
			rf.storage.BeginUse()
			st := rf.storage
			fm.mu.Unlock()
			return st, nil
		}
		if !fm.opening[name] {
			break
		}
		if !wait {
			fm.mu.Unlock()
			return nil, ErrWouldBlock
		}
		ch := fm.freedCh
		fm.mu.Unlock()
		select {
		case <-ch:
		case <-time.After(fm.unloadTimeout):
			// Another goroutine is still opening name after a full
			// unload timeout: genuinely busy, not just "would need to
			// wait", so a blocking caller gives up rather than waiting
			// forever on a stuck opener.
			return nil, ErrBusy
		}
		fm.mu.Lock()
	}
	fm.opening[name] = true
	fm.mu.Unlock()

	st, err := fm.openFileWait(name, hint, 0, -1, wait)

	fm.mu.Lock()
	delete(fm.opening, name)
	fm.mu.Unlock()
	fm.SignalMemoryAvailable()

	return st, err
}

// FlushFile drops name from the registry if it is unreferenced; calling
// it while the Storage is still in use, or twice in a row, is a no-op
// (spec §4.1 flushFile).
func (fm *FileManager) FlushFile(name string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.flushLocked(name)
}

// flushLocked is FlushFile's body; caller must hold fm.mu.
func (fm *FileManager) flushLocked(name string) {
	rf, ok := fm.files[name]
	if !ok {
		return
	}
	if rf.storage.InUse() > 0 {
		logMessage(1, "fileManager", "flushFile %s: still in use, not dropped", name)
		return
	}
	delete(fm.files, name)
	fm.totalBytes -= uint64(len(rf.storage.Bytes()))
	fm.openFiles--
	if rf.isMapped {
		fm.mappedFiles--
	}
	fm.segments.invalidateFile(rf.id)
	rf.clear()
}

// FlushDir flushes every resident file whose path is inside dir (spec
// §4.1 flushDir), skipping any still in use exactly as FlushFile does.
func (fm *FileManager) FlushDir(dir string) {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var names []string
	for name := range fm.files {
		if strings.HasPrefix(filepath.Clean(name), prefix) {
			names = append(names, name)
		}
	}
	for _, name := range names {
		fm.flushLocked(name)
	}
}

// GetFileSegment returns a Storage covering bytes [begin, end) of name,
// reading only that range into memory rather than the whole file (spec
// §4.1 getFile(name, begin, end)). Segments are cached independently of
// whole-file entries.
func (fm *FileManager) GetFileSegment(name string, begin, end int64) (*Storage, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIOError, name, err)
	}
	fm.mu.Lock()
	id := fm.fileID(name)
	fm.mu.Unlock()

	key := segmentKey{fileID: id, offset: begin}
	if data := fm.segments.get(key); data != nil && int64(len(data)) == end-begin {
		return NewStorageFromBytes(data), nil
	}
	if end < 0 || end > fi.Size() {
		end = fi.Size()
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOError, name, err)
	}
	defer f.Close()

	buf := make([]byte, end-begin)
	if _, err := f.ReadAt(buf, begin); err != nil {
		return nil, fmt.Errorf("%w: read %s[%d:%d]: %v", ErrIOError, name, begin, end, err)
	}
	fm.segments.put(key, buf)
	return NewStorageFromBytes(buf), nil
}

// fileID returns the id of name's resident entry, or a fresh small
// integer id if name is not resident, used as the segment cache's
// shard/collision key. Ids handed out for non-resident names are not
// remembered, so a later call for the same name gets a different id and
// segments cached under the earlier one are not found again. Caller
// must hold fm.mu.
func (fm *FileManager) fileID(name string) uint64 {
	if rf, ok := fm.files[name]; ok {
		return rf.id
	}
	fm.nextFileID++
	return fm.nextFileID
}

// openFileWait maps or reads the whole file named name into a Storage,
// registering it in the FileManager and evicting older entries if
// necessary to stay within budget (spec §4.1's eviction algorithm:
// evict unreferenced candidates, then run cleaners, then wait on the
// manager's condition up to a quarter of the unload timeout before
// giving up with ErrOutOfBudget).
func (fm *FileManager) openFileWait(name string, hint MapHint, begin, end int64, wait bool) (*Storage, error) {
	fi, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIOError, name, err)
	}
	size := fi.Size()
	if end < 0 {
		end = size
	}

	if err := fm.ensureBudget(uint64(size), wait); err != nil {
		return nil, err
	}

	fm.mu.Lock()
	useMap := fm.shouldMap(hint, size)
	fm.mu.Unlock()

	rf := &roFile{
		name:    name,
		opened:  time.Now(),
		lastUse: time.Now(),
	}

	if useMap {
		if err := rf.doMap(name, begin, end); err != nil {
			useMap = false
		}
	}
	if !useMap {
		if err := rf.doRead(name, begin, end); err != nil {
			return nil, err
		}
	}

	rf.storage.name = name
	rf.storage.BeginUse()
	fm.mu.Lock()
	fm.nextFileID++
	rf.id = fm.nextFileID
	rf.nacc = 1
	fm.files[name] = rf
	fm.totalBytes += uint64(len(rf.storage.Bytes()))
	fm.openFiles++
	if useMap {
		fm.mappedFiles++
		if size > fm.largestMapped {
			fm.largestMapped = size
		}
	}
	fm.mu.Unlock()

	return rf.storage, nil
}

// shouldMap decides whether a request of the given size should be
// memory-mapped under hint, matching spec §4.1's map-vs-read policy:
// mapping requires the mapped-file count to be under maxOpenFiles, and
// either an explicit PreferMmap hint or an MMAPLarge hint whose size
// clears both minMapSize and the largest file already mapped. Caller
// must hold fm.mu.
func (fm *FileManager) shouldMap(hint MapHint, size int64) bool {
	if fm.mappedFiles >= fm.maxOpenFiles {
		return false
	}
	switch hint {
	case PreferMmap:
		return true
	case MMAPLarge:
		threshold := fm.minMapSize
		if fm.largestMapped > threshold {
			threshold = fm.largestMapped
		}
		return size >= threshold
	default:
		return false
	}
}

// ensureBudget evicts and, if necessary, waits until size more bytes
// fit under maxBytes, or returns ErrOutOfBudget. Only one goroutine may
// wait at a time; a second arrival while one is already waiting gets
// ErrOutOfBudget immediately rather than queuing (spec §4.1).
func (fm *FileManager) ensureBudget(size uint64, wait bool) error {
	for {
		fm.mu.Lock()
		for fm.maxBytes > 0 && fm.totalBytes+size > fm.maxBytes {
			if fm.evictOneLocked() {
				continue
			}
			break
		}
		if fm.maxBytes == 0 || fm.totalBytes+size <= fm.maxBytes {
			fm.mu.Unlock()
			return nil
		}
		if !wait {
			fm.mu.Unlock()
			return ErrOutOfBudget
		}
		if fm.waiting {
			fm.mu.Unlock()
			return ErrOutOfBudget
		}
		fm.waiting = true
		ch := fm.freedCh
		fm.mu.Unlock()

		if freed := fm.runCleaners(); freed > 0 {
			fm.mu.Lock()
			fm.waiting = false
			fm.mu.Unlock()
			continue
		}

		select {
		case <-ch:
		case <-time.After(fm.unloadTimeout / 4):
			fm.mu.Lock()
			fm.waiting = false
			fm.mu.Unlock()
			return ErrOutOfBudget
		}
		fm.mu.Lock()
		fm.waiting = false
		fm.mu.Unlock()
	}
}

// doRead reads [begin, end) of file into memory.
func (rf *roFile) doRead(file string, begin, end int64) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIOError, file, err)
	}
	defer f.Close()
	buf := make([]byte, end-begin)
	if _, err := f.ReadAt(buf, begin); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrIOError, file, err)
	}
	rf.storage = NewStorageFromBytes(buf)
	return nil
}

// doMap memory-maps [begin, end) of file read-only.
func (rf *roFile) doMap(file string, begin, end int64) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIOError, file, err)
	}
	fd := int(f.Fd())
	data, err := unix.Mmap(fd, begin, int(end-begin), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: mmap %s: %v", ErrIOError, file, err)
	}
	rf.mmapData = data
	rf.isMapped = true
	rf.fd = fd
	rf.storage = NewStorageFromBytes(data)
	// The fd is kept open for the lifetime of the mapping; it is closed
	// in clear() alongside the munmap.
	rf.closeFile = f
	return nil
}

// clear releases the storage held by rf, unmapping or simply dropping
// the reference depending on how it was acquired.
func (rf *roFile) clear() {
	if rf.isMapped && rf.mmapData != nil {
		unix.Munmap(rf.mmapData)
		rf.mmapData = nil
	}
	if rf.closeFile != nil {
		rf.closeFile.Close()
		rf.closeFile = nil
	}
}

// beginUse records an access against rf for scoring purposes.
func (rf *roFile) beginUse() {
	rf.nacc++
	rf.lastUse = time.Now()
}

// score ranks rf for eviction: lower scores are evicted first. Ported
// verbatim (in structure) from roFile::score in fileManager.h — three
// regimes depending on how long ago the file was opened/last used
// relative to "now", read here as wall-clock seconds.
func (rf *roFile) score() float64 {
	now := time.Now()
	size := float64(len(rf.storage.Bytes()))
	nacc := float64(rf.nacc)

	switch {
	case !rf.opened.Before(now):
		return 1e-4*size + nacc
	case !rf.lastUse.Before(now):
		age := now.Sub(rf.opened).Seconds()
		return math.Sqrt(5e-6*size) + nacc + age
	default:
		openedAge := now.Sub(rf.opened).Seconds()
		idleAge := now.Sub(rf.lastUse).Seconds()
		if idleAge <= 0 {
			idleAge = 1
		}
		if openedAge <= 0 {
			openedAge = 1
		}
		return (math.Sqrt(1e-6*size+openedAge) + nacc/openedAge) / idleAge
	}
}

// evictOneLocked removes the lowest-scoring unreferenced resident file
// to free space, matching spec §4.1's eviction candidate rule
// "refcount==0 && pastUse>0": a Storage with InUse()>0 is currently
// held by some caller and is never a candidate, no matter its score.
// Returns false if nothing could be evicted (every file is in use or no
// files are resident). Caller must hold fm.mu.
func (fm *FileManager) evictOneLocked() bool {
	var worst *roFile
	var worstName string
	var worstScore float64 = math.MaxFloat64
	for name, rf := range fm.files {
		if rf.storage.InUse() > 0 || rf.nacc == 0 {
			continue
		}
		sc := rf.score()
		if sc < worstScore {
			worstScore = sc
			worst = rf
			worstName = name
		}
	}
	if worst == nil {
		return false
	}
	delete(fm.files, worstName)
	fm.totalBytes -= uint64(len(worst.storage.Bytes()))
	fm.openFiles--
	if worst.isMapped {
		fm.mappedFiles--
	}
	fm.segments.invalidateFile(worst.id)
	worst.clear()
	return true
}

// runCleaners invokes registered cleaners and returns the total bytes
// they claim to have released.
func (fm *FileManager) runCleaners() uint64 {
	fm.mu.Lock()
	cleaners := append([]cleanerEntry(nil), fm.cleaners...)
	fm.mu.Unlock()

	var freed uint64
	for _, c := range cleaners {
		freed += c.fn()
	}
	return freed
}

// reclaim evicts files until at least `want` bytes are free, or nothing
// further can be evicted.
func (fm *FileManager) reclaim(want uint64) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for fm.maxBytes > 0 && (fm.maxBytes-min(fm.maxBytes, fm.totalBytes)) < want {
		if !fm.evictOneLocked() {
			return
		}
	}
}

// clear unconditionally drops and unmaps every resident file, ignoring
// InUse refcounts; only Fini calls this, at process shutdown.
func (fm *FileManager) clear() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for name, rf := range fm.files {
		delete(fm.files, name)
		rf.clear()
	}
	fm.totalBytes = 0
	fm.openFiles = 0
	fm.mappedFiles = 0
	fm.segments = newSegmentCache(1024)
}

// CloseFile drops a file from the registry outright, e.g. after it has
// been truncated or deleted on disk.
func (fm *FileManager) CloseFile(name string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	rf, ok := fm.files[name]
	if !ok {
		return
	}
	delete(fm.files, name)
	fm.totalBytes -= uint64(len(rf.storage.Bytes()))
	fm.openFiles--
	if rf.isMapped {
		fm.mappedFiles--
	}
	fm.segments.invalidateFile(rf.id)
	rf.clear()
}
