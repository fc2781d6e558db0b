// Package fsck verifies the integrity of a ref store.
//
// Findings come from two sources: the store itself, which checks its own on-disk
// structures, and a format-agnostic pass over the visible refs (names, object ids,
// symbolic ref chains). Each finding then goes through a severity policy.
// Verification never stops at the first finding: it only aborts when the store
// cannot be read.
package fsck

import (
	"context"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/repository"
	"go.uber.org/zap"
)

// Report of a verification
type Report struct {
	Format   model.Format    `json:"format"`
	Refs     int64           `json:"refs"`
	Errors   int64           `json:"errors"`
	Warnings int64           `json:"warnings"`
	Infos    int64           `json:"infos"`
	Findings []model.Finding `json:"findings"`
}

// Failed tells if at least one finding is an error, after the severity policy applied
func (r *Report) Failed() bool {
	return r.Errors > 0
}

type skipped struct {
	name string
	err  error
}

type verifier struct {
	*options
	store refs.Store

	findings []model.Finding
	refs     int64
	errors   int64
	warnings int64
	infos    int64

	// structural errors reported by the store, before any policy
	structural int64
}

// Verify checks a ref store.
//
// The returned error is only set when the verification could not be carried out.
func Verify(ctx context.Context, store refs.Store, opts ...Option) (*Report, error) {
	v := &verifier{options: defaultOptions(), store: store}
	for _, apply := range opts {
		apply(v.options)
	}
	v.l = v.l.With(zap.Stringer("format", store.Format()))

	if err := v.run(ctx); err != nil {
		v.l.Error("verification aborted", zap.Error(err))
		return nil, err
	}
	report := &Report{
		Format:   store.Format(),
		Refs:     v.refs,
		Errors:   v.errors,
		Warnings: v.warnings,
		Infos:    v.infos,
		Findings: v.findings,
	}
	v.l.Info("verification complete",
		zap.Int64("refs", report.Refs),
		zap.Int64("errors", report.Errors),
		zap.Int64("warnings", report.Warnings),
		zap.Bool("strict", v.strict),
	)
	return report, nil
}

// VerifyRepository checks the active ref store of a repository.
// Stores without snapshot reads are checked under the shared lock.
func VerifyRepository(ctx context.Context, repo *repository.Repository, opts ...Option) (report *Report, err error) {
	err = repo.Read(ctx, func(store refs.Store) error {
		var verr error
		report, verr = Verify(ctx, store, opts...)
		return verr
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (v *verifier) run(ctx context.Context) error {
	if err := v.store.CheckStructure(ctx, v.reportStructure); err != nil {
		if abort(err) {
			return err
		}
		v.l.Warn("structure check interrupted", zap.Error(err))
	}

	var malformed []skipped
	it, err := v.store.Enumerate(ctx, refs.SkipMalformed(func(name string, err error) {
		malformed = append(malformed, skipped{name: name, err: err})
	}))
	if err != nil {
		return v.interrupted(err)
	}

	var previous string
	for it.Next() {
		rec := it.Record()
		v.refs++
		if err = v.checkRef(ctx, rec, previous); err != nil {
			_ = it.Close()
			return err
		}
		previous = rec.Name
	}
	err = it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if err = v.interrupted(err); err != nil {
			return err
		}
	}

	// malformed entries are already accounted for by a structural error
	if v.structural == 0 {
		for _, s := range malformed {
			v.report(model.CheckBadRefContent, s.name, s.err.Error())
		}
	}
	return nil
}

func abort(err error) bool {
	return errors.Is(err, status.ErrIOFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// interrupted handles an enumeration that could not complete
func (v *verifier) interrupted(err error) error {
	if abort(err) {
		return err
	}
	if v.structural == 0 {
		v.report(model.CheckBadRefContent, "", err.Error())
	}
	v.l.Warn("enumeration interrupted", zap.Error(err))
	return nil
}

func (v *verifier) checkRef(ctx context.Context, rec model.Record, previous string) error {
	if rec.Name == previous {
		v.report(model.CheckDuplicateRefName, rec.Name, "ref is listed twice")
		return nil
	}
	if err := model.CheckRefName(rec.Name); err != nil {
		v.report(model.CheckBadRefName, rec.Name, err.Error())
		return nil
	}

	if rec.Target.IsSymbolic() {
		return v.checkSymbolic(ctx, rec)
	}
	return v.checkTarget(rec.Name, rec.Target.OID)
}

func (v *verifier) checkTarget(name string, oid model.OID) error {
	if oid.IsZero() {
		v.report(model.CheckBadRefContent, name, "points to the null object id")
		return nil
	}
	if v.objects == nil || v.skiplist.Contains(oid) {
		return nil
	}
	ok, err := v.objects.Exists(oid)
	if err != nil {
		return err
	}
	if !ok {
		v.report(model.CheckDanglingTarget, name, "object "+oid.String()+" is missing")
	}
	return nil
}

func (v *verifier) checkSymbolic(ctx context.Context, rec model.Record) error {
	_, err := v.store.ResolveSymbolic(ctx, rec.Name, v.maxSymrefDepth)
	switch {
	case err == nil:
	case errors.Is(err, status.ErrCyclic):
		v.report(model.CheckSymrefCycle, rec.Name, err.Error())
	case errors.Is(err, status.ErrDepthExceeded):
		v.report(model.CheckSymrefDepthExceeded, rec.Name, err.Error())
	case errors.Is(err, status.ErrNotFound):
		v.report(model.CheckDanglingSymref, rec.Name, "points to the missing ref "+rec.Target.Symbolic)
	case errors.Is(err, status.ErrStructuralCorruption) && v.structural > 0:
		v.l.Debug("symbolic ref not resolved in a damaged store", zap.String("ref", rec.Name), zap.Error(err))
	case errors.Is(err, status.ErrMalformed):
		// the malformed link of the chain is reported on its own
		v.l.Debug("symbolic ref through a malformed ref", zap.String("ref", rec.Name), zap.Error(err))
	default:
		return err
	}
	return nil
}

func (v *verifier) reportStructure(f model.Finding) {
	if f.Kind.DefaultSeverity() == model.SeverityError {
		v.structural++
	}
	v.report(f.Kind, f.Ref, f.Detail)
}

func (v *verifier) report(kind model.CheckKind, ref, detail string) {
	severity := v.policy.severity(kind)
	switch severity {
	case model.SeverityIgnore:
		return
	case model.SeverityError:
		v.errors++
	case model.SeverityWarning:
		v.warnings++
	case model.SeverityInfo:
		v.infos++
	}
	f := model.Finding{Kind: kind, Severity: severity, Ref: ref, Detail: detail}
	v.findings = append(v.findings, f)
	if v.onFinding != nil {
		v.onFinding(f)
	}
}
