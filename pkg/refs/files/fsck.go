package files

import (
	"context"
	"fmt"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
)

// CheckStructure inspects packed-refs and every loose file.
//
// Only I/O failures interrupt the checks: everything else is reported.
func (s *Store) CheckStructure(ctx context.Context, report refs.Reporter) error {
	if report == nil {
		report = func(model.Finding) {}
	}
	table, err := s.readPacked()
	if err != nil {
		return err
	}
	for _, p := range table.problems {
		report(model.Finding{Kind: p.kind, Ref: p.ref, Detail: fmt.Sprintf("%s line %d: %s", PackedRefsFile, p.line, p.detail)})
	}
	packedNames := table.names()

	listing, err := s.listLoose()
	if err != nil {
		return err
	}
	for _, stray := range listing.strays {
		report.Report(model.CheckStrayFile, "", "unexpected file "+stray)
	}
	for _, name := range listing.invalid {
		report.Report(model.CheckBadRefName, name, "loose ref file name is not a valid ref name")
	}

	for _, name := range listing.names {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := storage.ReadFile(s.fs, s.loosePath(name))
		if err != nil {
			if errors.Is(err, status.ErrNotFound) {
				continue
			}
			return err
		}

		content, perr := parseLoose(data)
		if perr != nil {
			report.Report(model.CheckBadRefContent, name, perr.Error())
			continue
		}
		if content.missingNewline {
			report.Report(model.CheckRefMissingNewline, name, "loose ref file does not end with a newline")
		}
		if content.trailing {
			report.Report(model.CheckTrailingRefContent, name, "loose ref file has trailing content")
		}
		if _, ok := packedNames[name]; ok {
			report.Report(model.CheckLooseShadowsPacked, name, "loose ref shadows a packed ref")
		}
	}
	return nil
}
