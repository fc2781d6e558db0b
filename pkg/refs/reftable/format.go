package reftable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/minio/blake2b-simd"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Table file layout. Integers are big endian, varints are unsigned LEB128.
//
//	header:  magic | version u8 | block size u32 | min update index u64 | max update index u64
//	blocks:  'r' | payload length u32 | record count u32 | records
//	record:  uvarint len(name) | name | uvarint (update index - min) | value type u8 | value
//	index:   'i' | uvarint block count | per block: uvarint len(first name) | first name | uvarint offset | uvarint length
//	footer:  index offset u64 | record count u64 | block count u32 | blake2b-256 of all preceding bytes | magic
const (
	magic         = "RMTB"
	formatVersion = 1

	headerSize      = len(magic) + 1 + 4 + 8 + 8
	footerSize      = 8 + 8 + 4 + checksumSize + len(magic)
	blockHeaderSize = 1 + 4 + 4

	blockTag = 'r'
	indexTag = 'i'

	// DefaultBlockSize is the payload size at which a block is cut
	DefaultBlockSize = 4096

	checksumSize = 32
)

type valueType uint8

const (
	valueDeletion valueType = iota
	valueDirect
	valueSymbolic
)

// entry is a record as stored in a table: deletions are kept to shadow older tables
type entry struct {
	name        string
	updateIndex uint64
	value       valueType
	oid         model.OID
	symbolic    string
}

func newEntry(name string, updateIndex uint64, target *model.Target) entry {
	e := entry{name: name, updateIndex: updateIndex}
	switch {
	case target == nil:
		e.value = valueDeletion
	case target.IsSymbolic():
		e.value = valueSymbolic
		e.symbolic = target.Symbolic
	default:
		e.value = valueDirect
		e.oid = target.OID
	}
	return e
}

func (e entry) deleted() bool {
	return e.value == valueDeletion
}

func (e entry) target() model.Target {
	if e.value == valueSymbolic {
		return model.Symbolic(e.symbolic)
	}
	return model.Direct(e.oid)
}

func (e entry) record() model.Record {
	return model.Record{Name: e.name, Target: e.target(), UpdateIndex: e.updateIndex}
}

type header struct {
	blockSize uint32
	minIndex  uint64
	maxIndex  uint64
}

type footer struct {
	indexOffset uint64
	recordCount uint64
	blockCount  uint32
	checksum    [checksumSize]byte
}

type indexEntry struct {
	first  string
	offset uint64
	length uint64
}

func appendHeader(buf []byte, h header) []byte {
	buf = append(buf, magic...)
	buf = append(buf, formatVersion)
	buf = binary.BigEndian.AppendUint32(buf, h.blockSize)
	buf = binary.BigEndian.AppendUint64(buf, h.minIndex)
	return binary.BigEndian.AppendUint64(buf, h.maxIndex)
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if len(data) < headerSize {
		return h, status.ErrStructuralCorruption.Wrapf("table header is truncated")
	}
	if string(data[:len(magic)]) != magic {
		return h, status.ErrStructuralCorruption.Wrapf("bad table magic %q", data[:len(magic)])
	}
	data = data[len(magic):]
	if data[0] != formatVersion {
		return h, status.ErrStructuralCorruption.Wrapf("unsupported table version %d", data[0])
	}
	data = data[1:]
	h.blockSize = binary.BigEndian.Uint32(data)
	h.minIndex = binary.BigEndian.Uint64(data[4:])
	h.maxIndex = binary.BigEndian.Uint64(data[12:])
	if h.minIndex > h.maxIndex {
		return h, status.ErrStructuralCorruption.Wrapf("table update index range %d-%d is inverted", h.minIndex, h.maxIndex)
	}
	return h, nil
}

func appendFooter(buf []byte, f footer) []byte {
	buf = binary.BigEndian.AppendUint64(buf, f.indexOffset)
	buf = binary.BigEndian.AppendUint64(buf, f.recordCount)
	buf = binary.BigEndian.AppendUint32(buf, f.blockCount)
	buf = append(buf, f.checksum[:]...)
	return append(buf, magic...)
}

func decodeFooter(data []byte) (footer, error) {
	var f footer
	if len(data) < headerSize+footerSize {
		return f, status.ErrStructuralCorruption.Wrapf("table is truncated (%d bytes)", len(data))
	}
	raw := data[len(data)-footerSize:]
	if string(raw[footerSize-len(magic):]) != magic {
		return f, status.ErrStructuralCorruption.Wrapf("bad table footer magic")
	}
	f.indexOffset = binary.BigEndian.Uint64(raw)
	f.recordCount = binary.BigEndian.Uint64(raw[8:])
	f.blockCount = binary.BigEndian.Uint32(raw[16:])
	copy(f.checksum[:], raw[20:20+checksumSize])
	return f, nil
}

func checksum(data []byte) [checksumSize]byte {
	var sum [checksumSize]byte
	hasher, err := blake2b.New(&blake2b.Config{Size: checksumSize})
	if err != nil {
		// only reachable with an invalid configuration
		panic(err)
	}
	_, _ = hasher.Write(data)
	copy(sum[:], hasher.Sum(nil))
	return sum
}

func appendEntry(buf []byte, e entry, minIndex uint64) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(e.name)))
	buf = append(buf, e.name...)
	buf = binary.AppendUvarint(buf, e.updateIndex-minIndex)
	buf = append(buf, byte(e.value))
	switch e.value {
	case valueDirect:
		buf = append(buf, e.oid[:]...)
	case valueSymbolic:
		buf = binary.AppendUvarint(buf, uint64(len(e.symbolic)))
		buf = append(buf, e.symbolic...)
	}
	return buf
}

// decoder reads varint-framed fields, remembering the first error
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = status.ErrStructuralCorruption.Wrapf(format, args...)
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		d.fail("bad varint")
		return 0
	}
	d.data = d.data[n:]
	return v
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.data)) {
		d.fail("field of %d bytes overflows its block", n)
		return nil
	}
	b := d.data[:n]
	d.data = d.data[n:]
	return b
}

func (d *decoder) readByte() byte {
	b := d.bytes(1)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (d *decoder) entry(minIndex uint64) entry {
	var e entry
	e.name = string(d.bytes(d.uvarint()))
	e.updateIndex = minIndex + d.uvarint()
	e.value = valueType(d.readByte())
	switch e.value {
	case valueDeletion:
	case valueDirect:
		copy(e.oid[:], d.bytes(model.OIDSize))
	case valueSymbolic:
		e.symbolic = string(d.bytes(d.uvarint()))
	default:
		d.fail("record %q: unknown value type %d", e.name, e.value)
	}
	return e
}

// decodeBlock decodes all records of the block at data[offset:offset+length]
func decodeBlock(data []byte, offset, length uint64, minIndex uint64) ([]entry, error) {
	if offset+length > uint64(len(data)) || length < blockHeaderSize || offset+length < offset {
		return nil, status.ErrStructuralCorruption.Wrapf("block at offset %d overflows the table", offset)
	}
	raw := data[offset : offset+length]
	if raw[0] != blockTag {
		return nil, status.ErrStructuralCorruption.Wrapf("block at offset %d: bad tag %q", offset, raw[0])
	}
	payload := uint64(binary.BigEndian.Uint32(raw[1:]))
	count := binary.BigEndian.Uint32(raw[5:])
	if payload != length-blockHeaderSize {
		return nil, status.ErrStructuralCorruption.Wrapf("block at offset %d: payload of %d bytes in a block of %d", offset, payload, length)
	}

	d := &decoder{data: raw[blockHeaderSize:]}
	entries := make([]entry, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		entries = append(entries, d.entry(minIndex))
	}
	if d.err != nil {
		return nil, status.ErrStructuralCorruption.Wrapf("block at offset %d: %v", offset, d.err)
	}
	if len(d.data) != 0 {
		return nil, status.ErrStructuralCorruption.Wrapf("block at offset %d: %d trailing bytes", offset, len(d.data))
	}
	return entries, nil
}

// blockLength reads the length of the block starting at offset, from its header
func blockLength(data []byte, offset uint64) (uint64, error) {
	if offset+blockHeaderSize > uint64(len(data)) {
		return 0, status.ErrStructuralCorruption.Wrapf("block header at offset %d overflows the table", offset)
	}
	return blockHeaderSize + uint64(binary.BigEndian.Uint32(data[offset+1:])), nil
}

func appendIndex(buf []byte, index []indexEntry) []byte {
	buf = append(buf, indexTag)
	buf = binary.AppendUvarint(buf, uint64(len(index)))
	for _, ie := range index {
		buf = binary.AppendUvarint(buf, uint64(len(ie.first)))
		buf = append(buf, ie.first...)
		buf = binary.AppendUvarint(buf, ie.offset)
		buf = binary.AppendUvarint(buf, ie.length)
	}
	return buf
}

func decodeIndex(raw []byte) ([]indexEntry, error) {
	if len(raw) == 0 || raw[0] != indexTag {
		return nil, status.ErrStructuralCorruption.Wrapf("bad index tag")
	}
	d := &decoder{data: raw[1:]}
	count := d.uvarint()
	if count > uint64(len(raw)) {
		return nil, status.ErrStructuralCorruption.Wrapf("index claims %d blocks", count)
	}
	index := make([]indexEntry, 0, count)
	for i := uint64(0); i < count && d.err == nil; i++ {
		var ie indexEntry
		ie.first = string(d.bytes(d.uvarint()))
		ie.offset = d.uvarint()
		ie.length = d.uvarint()
		index = append(index, ie)
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.data) != 0 {
		return nil, status.ErrStructuralCorruption.Wrapf("index has %d trailing bytes", len(d.data))
	}
	return index, nil
}

// tableWriter lays out a table in memory
type tableWriter struct {
	header  header
	buf     []byte
	block   []byte
	first   string
	count   uint32
	index   []indexEntry
	records uint64
	last    string

	// unchecked lets tests produce unsorted or duplicate records
	unchecked bool
}

func newTableWriter(blockSize uint32, minIndex, maxIndex uint64) *tableWriter {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	h := header{blockSize: blockSize, minIndex: minIndex, maxIndex: maxIndex}
	return &tableWriter{header: h, buf: appendHeader(make([]byte, 0, headerSize+int(blockSize)), h)}
}

func (w *tableWriter) add(e entry) error {
	if !w.unchecked {
		if w.records > 0 && e.name <= w.last {
			return status.ErrMalformed.Wrapf("record %q is not sorted after %q", e.name, w.last)
		}
		if e.updateIndex < w.header.minIndex || e.updateIndex > w.header.maxIndex {
			return status.ErrMalformed.Wrapf("record %q: update index %d out of table range %d-%d",
				e.name, e.updateIndex, w.header.minIndex, w.header.maxIndex)
		}
	}
	if w.count == 0 {
		w.first = e.name
	}
	w.block = appendEntry(w.block, e, w.header.minIndex)
	w.count++
	w.records++
	w.last = e.name
	if uint32(len(w.block)) >= w.header.blockSize {
		w.flushBlock()
	}
	return nil
}

func (w *tableWriter) flushBlock() {
	if w.count == 0 {
		return
	}
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, blockTag)
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(w.block)))
	w.buf = binary.BigEndian.AppendUint32(w.buf, w.count)
	w.buf = append(w.buf, w.block...)
	w.index = append(w.index, indexEntry{first: w.first, offset: offset, length: uint64(len(w.buf)) - offset})
	w.block = w.block[:0]
	w.count = 0
}

// finish returns the complete table
func (w *tableWriter) finish() []byte {
	w.flushBlock()
	f := footer{
		indexOffset: uint64(len(w.buf)),
		recordCount: w.records,
		blockCount:  uint32(len(w.index)),
	}
	w.buf = appendIndex(w.buf, w.index)
	f.checksum = checksum(w.buf)
	return appendFooter(w.buf, f)
}

// table is an opened, immutable table file
type table struct {
	name   string
	data   []byte
	header header
	footer footer
	index  []indexEntry
}

// openTable validates the framing and the checksum of a table, then loads its index
func openTable(name string, data []byte) (*table, error) {
	t := &table{name: name, data: data}
	var err error
	if t.header, err = decodeHeader(data); err != nil {
		return nil, err
	}
	if t.footer, err = decodeFooter(data); err != nil {
		return nil, err
	}
	body := data[:len(data)-footerSize]
	if sum := checksum(body); !bytes.Equal(sum[:], t.footer.checksum[:]) {
		return nil, status.ErrStructuralCorruption.Wrapf("table checksum mismatch")
	}
	if t.footer.indexOffset < uint64(headerSize) || t.footer.indexOffset > uint64(len(body)) {
		return nil, status.ErrStructuralCorruption.Wrapf("index offset %d out of bounds", t.footer.indexOffset)
	}
	if t.index, err = decodeIndex(body[t.footer.indexOffset:]); err != nil {
		return nil, err
	}
	if uint32(len(t.index)) != t.footer.blockCount {
		return nil, status.ErrStructuralCorruption.Wrapf("index lists %d blocks, footer %d", len(t.index), t.footer.blockCount)
	}
	return t, nil
}

func (t *table) blockEntries(i int) ([]entry, error) {
	ie := t.index[i]
	if ie.offset+ie.length > t.footer.indexOffset {
		return nil, status.ErrStructuralCorruption.Wrapf("block %d overlaps the index", i)
	}
	return decodeBlock(t.data, ie.offset, ie.length, t.header.minIndex)
}

// lookup finds a record by binary search over the index, then a scan of one block
func (t *table) lookup(name string) (entry, bool, error) {
	i := sort.Search(len(t.index), func(i int) bool { return t.index[i].first > name }) - 1
	if i < 0 {
		return entry{}, false, nil
	}
	entries, err := t.blockEntries(i)
	if err != nil {
		return entry{}, false, err
	}
	for _, e := range entries {
		if e.name == name {
			return e, true, nil
		}
		if e.name > name {
			break
		}
	}
	return entry{}, false, nil
}
