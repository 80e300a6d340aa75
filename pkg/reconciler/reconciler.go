// Package reconciler keeps a document's owner-tag in step with its owner.
//
// Given a document's owner and current tags, the reconciler computes the
// smallest tag change that leaves exactly one owner-tag, the one resolved
// for the current owner, or none when the owner has no resolvable tag. The
// target state is a pure function of (owner, current tags), so repeated or
// overlapping runs converge on the same result.
package reconciler

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
	"github.com/agentstation/ownertag/pkg/mapping"
)

// Reconciler applies owner-tags to documents.
type Reconciler interface {
	// ReconcileID fetches document id and reconciles it. It is the entry
	// point for drivers and is safe to call repeatedly and concurrently;
	// calls for the same id are serialised.
	ReconcileID(ctx context.Context, id int) (*Result, error)

	// Reconcile reconciles a document snapshot the caller already holds.
	Reconcile(ctx context.Context, doc *documents.Document) (*Result, error)
}

// Service reads and writes documents.
type Service interface {
	GetDocument(ctx context.Context, id int) (*documents.Document, error)
	UpdateDocumentTags(ctx context.Context, id int, tags []int) error
}

// TagDirectory resolves tag names and ids.
type TagDirectory interface {
	EnsureID(ctx context.Context, name string) (int, error)
	LookupID(ctx context.Context, name string) (int, error)
	Names(ctx context.Context, ids []int) (map[int]string, error)
}

// reconciler is the default implementation of Reconciler.
type reconciler struct {
	svc      Service
	tags     TagDirectory
	resolver *mapping.Resolver
	locks    *keyedMutex
	opts     *options
}

// New creates a Reconciler.
func New(svc Service, tags TagDirectory, resolver *mapping.Resolver, opts ...Option) (Reconciler, error) {
	switch {
	case svc == nil:
		return nil, errors.NewValidationError("service", nil, "is required")
	case tags == nil:
		return nil, errors.NewValidationError("tags", nil, "is required")
	case resolver == nil:
		return nil, errors.NewValidationError("resolver", nil, "is required")
	}

	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &reconciler{
		svc:      svc,
		tags:     tags,
		resolver: resolver,
		locks:    newKeyedMutex(),
		opts:     o,
	}, nil
}

// ReconcileID implements Reconciler.
func (r *reconciler) ReconcileID(ctx context.Context, id int) (res *Result, err error) {
	ctx = logging.WithDocument(r.withLogger(ctx), id)
	logger := logging.FromContext(ctx)

	unlock := r.locks.Lock(id)
	defer unlock()

	start := time.Now()
	defer func() {
		r.observe(res, err, time.Since(start))
	}()

	if r.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
	}

	doc, err := r.svc.GetDocument(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			logger.Info().Msg("Document no longer exists, skipping")
			return &Result{DocumentID: id, Status: StatusSkipped}, nil
		}
		return nil, err
	}

	return r.reconcile(ctx, doc)
}

// Reconcile implements Reconciler.
func (r *reconciler) Reconcile(ctx context.Context, doc *documents.Document) (res *Result, err error) {
	if doc == nil {
		return nil, errors.NewValidationError("document", nil, "is required")
	}
	ctx = logging.WithDocument(r.withLogger(ctx), doc.ID)

	start := time.Now()
	defer func() {
		r.observe(res, err, time.Since(start))
	}()

	return r.reconcile(ctx, doc)
}

func (r *reconciler) reconcile(ctx context.Context, doc *documents.Document) (*Result, error) {
	logger := logging.FromContext(ctx)

	res := &Result{
		DocumentID: doc.ID,
		Owner:      doc.Owner,
	}

	// Step 1: owner-tags currently on the document.
	names, err := r.tags.Names(ctx, doc.Tags)
	if err != nil {
		return nil, err
	}
	var current []int
	for _, id := range doc.Tags {
		if name, ok := names[id]; ok && r.resolver.IsOwnerTag(name) {
			current = append(current, id)
		}
	}

	// Step 2: the tag the owner should have.
	desired, hasDesired, err := r.desiredTag(ctx, res)
	if err != nil {
		return nil, err
	}

	// Steps 3 and 4: the delta.
	for _, id := range current {
		if !hasDesired || id != desired {
			res.Removed = append(res.Removed, id)
		}
	}
	if hasDesired && !doc.HasTag(desired) {
		res.Added = append(res.Added, desired)
	}

	// Step 5: nothing to do.
	if len(res.Added) == 0 && len(res.Removed) == 0 {
		res.Status = StatusUnchanged
		res.Tags = slices.Clone(doc.Tags)
		logger.Debug().Str("owner_tag", res.Desired).Msg("Document already has the correct owner tag")
		return res, nil
	}

	// Step 6: one write with the final set.
	res.Tags = applyDelta(doc.Tags, res.Removed, res.Added)
	res.Status = StatusUpdated

	event := logger.Info().
		Str("owner", res.Owner).
		Str("owner_tag", res.Desired).
		Ints("added", res.Added).
		Ints("removed", res.Removed)

	if r.opts.dryRun {
		res.DryRun = true
		event.Bool("dry_run", true).Msg("Would update owner tags")
		return res, nil
	}

	if err := r.svc.UpdateDocumentTags(ctx, doc.ID, res.Tags); err != nil {
		if errors.IsNotFound(err) {
			logger.Info().Msg("Document deleted before update, skipping")
			return &Result{DocumentID: doc.ID, Status: StatusSkipped, Owner: doc.Owner}, nil
		}
		return nil, err
	}

	event.Str("title", doc.Title).Msg("Updated owner tags")
	return res, nil
}

// desiredTag resolves the owner-tag id for res.Owner and records its name
// and source on res.
func (r *reconciler) desiredTag(ctx context.Context, res *Result) (int, bool, error) {
	name, source := r.resolver.Resolve(res.Owner)
	res.Desired = name
	res.Source = source

	switch source {
	case mapping.SourcePrefix:
		id, err := r.tags.EnsureID(ctx, name)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil

	case mapping.SourceMapping:
		id, err := r.tags.LookupID(ctx, name)
		if err != nil {
			if errors.IsNotFound(err) {
				return 0, false, errors.NewConfigurationError(
					"owner mapping",
					"tag "+strconv.Quote(name)+" mapped for owner "+strconv.Quote(res.Owner)+" does not exist",
					err,
				)
			}
			return 0, false, err
		}
		return id, true, nil

	default:
		return 0, false, nil
	}
}

func (r *reconciler) withLogger(ctx context.Context) context.Context {
	if r.opts.logger == nil || logging.FromContext(ctx) != logging.Default() {
		return ctx
	}
	return logging.WithLogger(ctx, r.opts.logger)
}

func (r *reconciler) observe(res *Result, err error, elapsed time.Duration) {
	if r.opts.observer != nil {
		r.opts.observer(res, err, elapsed)
	}
}

// applyDelta returns current without removed, followed by added. The order
// of retained tags is preserved.
func applyDelta(current, removed, added []int) []int {
	out := make([]int, 0, len(current)+len(added))
	for _, id := range current {
		if !slices.Contains(removed, id) {
			out = append(out, id)
		}
	}
	return append(out, added...)
}

var _ zerolog.LogObjectMarshaler = (*Result)(nil)

// MarshalZerologObject lets a Result be logged with Object.
func (r *Result) MarshalZerologObject(e *zerolog.Event) {
	e.Int("document_id", r.DocumentID).
		Str("status", string(r.Status)).
		Str("owner", r.Owner).
		Str("owner_tag", r.Desired).
		Str("source", r.Source.String()).
		Ints("added", r.Added).
		Ints("removed", r.Removed).
		Bool("dry_run", r.DryRun)
}
