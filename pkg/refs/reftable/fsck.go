package reftable

import (
	"bytes"
	"context"
	"fmt"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/spf13/afero"
)

// CheckStructure inspects the manifest and every table, block by block, independently
// from the index. Only I/O failures interrupt the checks.
func (s *Store) CheckStructure(ctx context.Context, report refs.Reporter) error {
	if report == nil {
		report = func(model.Finding) {}
	}

	data, err := storage.ReadFile(s.fs, s.manifestPath())
	switch {
	case errors.Is(err, status.ErrNotFound):
		report.Report(model.CheckBadManifest, "", ManifestFile+" is missing")
	case err != nil:
		return err
	}
	names, problems := parseManifest(data)
	for _, p := range problems {
		report.Report(p.kind, "", ManifestFile+": "+p.detail)
	}

	listed := make(map[string]struct{}, len(names))
	var previousMax uint64
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		listed[name] = struct{}{}
		raw, err := storage.ReadFile(s.fs, s.tablePath(name))
		if err != nil {
			if errors.Is(err, status.ErrNotFound) {
				report.Report(model.CheckMissingTable, "", fmt.Sprintf("table %s listed in %s does not exist", name, ManifestFile))
				continue
			}
			return err
		}
		h, ok := checkTable(name, raw, report)
		if !ok {
			continue
		}
		if i > 0 && h.minIndex <= previousMax {
			report.Report(model.CheckUpdateIndexNotMonotonic, "",
				fmt.Sprintf("table %s starts at update index %d, not after %d", name, h.minIndex, previousMax))
		}
		previousMax = h.maxIndex
	}

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return status.ErrIOFailure.Wrapf("read store root %q: %v", s.root, err)
	}
	for _, entry := range entries {
		if _, ok := listed[entry.Name()]; ok || entry.Name() == ManifestFile {
			continue
		}
		report.Report(model.CheckStrayFile, "", "unexpected file "+entry.Name())
	}
	return nil
}

// checkTable reports the irregularities of one table. It returns false when the table
// framing is too damaged to locate its update index range.
func checkTable(name string, data []byte, report refs.Reporter) (header, bool) {
	corrupt := func(format string, args ...interface{}) {
		report.Report(model.CheckTableIndexCorrupt, "", fmt.Sprintf("table %s: ", name)+fmt.Sprintf(format, args...))
	}

	h, err := decodeHeader(data)
	if err != nil {
		corrupt("%v", err)
		return h, false
	}
	f, err := decodeFooter(data)
	if err != nil {
		corrupt("%v", err)
		return h, false
	}
	if minIndex, maxIndex, err := parseTableName(name); err == nil && (minIndex != h.minIndex || maxIndex != h.maxIndex) {
		report.Report(model.CheckBadTableName, "",
			fmt.Sprintf("table %s holds update indexes %d-%d", name, h.minIndex, h.maxIndex))
	}

	body := data[:len(data)-footerSize]
	if sum := checksum(body); !bytes.Equal(sum[:], f.checksum[:]) {
		report.Report(model.CheckTableChecksum, "", fmt.Sprintf("table %s: checksum mismatch", name))
	}
	if f.indexOffset < uint64(headerSize) || f.indexOffset > uint64(len(body)) {
		corrupt("index offset %d out of bounds", f.indexOffset)
		return h, true
	}

	// walk the blocks from the header, not through the index
	var (
		blocks  []indexEntry
		records uint64
		last    string
	)
	for offset := uint64(headerSize); offset < f.indexOffset; {
		length, err := blockLength(data, offset)
		if err == nil && offset+length > f.indexOffset {
			err = status.ErrStructuralCorruption.Wrapf("block at offset %d overlaps the index", offset)
		}
		var entries []entry
		if err == nil {
			entries, err = decodeBlock(data, offset, length, h.minIndex)
		}
		if err != nil {
			corrupt("%v", err)
			return h, true
		}
		if len(entries) > 0 {
			blocks = append(blocks, indexEntry{first: entries[0].name, offset: offset, length: length})
		}
		for _, e := range entries {
			checkEntry(name, h, e, records > 0, last, report)
			records++
			last = e.name
		}
		offset += length
	}
	if records != f.recordCount {
		corrupt("footer counts %d records, blocks hold %d", f.recordCount, records)
	}

	index, err := decodeIndex(body[f.indexOffset:])
	switch {
	case err != nil:
		corrupt("%v", err)
	case len(index) != len(blocks) || uint32(len(index)) != f.blockCount:
		corrupt("index lists %d blocks, footer %d, table holds %d", len(index), f.blockCount, len(blocks))
	default:
		for i := range index {
			if index[i] != blocks[i] {
				corrupt("index entry %d does not match block at offset %d", i, blocks[i].offset)
				break
			}
		}
	}
	return h, true
}

func checkEntry(table string, h header, e entry, hasPrevious bool, previous string, report refs.Reporter) {
	switch {
	case hasPrevious && e.name == previous:
		report.Report(model.CheckDuplicateRefName, e.name, fmt.Sprintf("table %s holds %s more than once", table, e.name))
	case hasPrevious && e.name < previous:
		report.Report(model.CheckTableUnsorted, e.name, fmt.Sprintf("table %s lists %s after %s", table, e.name, previous))
	}
	if err := model.CheckRefName(e.name); err != nil {
		report.Report(model.CheckBadRefName, e.name, fmt.Sprintf("table %s: %v", table, err))
	}
	if e.updateIndex < h.minIndex || e.updateIndex > h.maxIndex {
		report.Report(model.CheckUpdateIndexNotMonotonic, e.name,
			fmt.Sprintf("table %s: update index %d outside of %d-%d", table, e.updateIndex, h.minIndex, h.maxIndex))
	}
	switch e.value {
	case valueSymbolic:
		if err := model.CheckRefName(e.symbolic); err != nil {
			report.Report(model.CheckBadRefContent, e.name, fmt.Sprintf("table %s: bad symbolic target: %v", table, err))
		}
	case valueDirect:
		if e.oid.IsZero() {
			report.Report(model.CheckBadRefContent, e.name, fmt.Sprintf("table %s: null object id", table))
		}
	}
}
