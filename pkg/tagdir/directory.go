// Package tagdir maintains the correspondence between tag names and the
// document service's tag ids.
//
// Lookups are cached for the lifetime of a Directory; entries are never
// evicted because tags are assumed not to be renamed while ownertag runs.
// Prefix-derived tags are created on demand and creation tolerates races
// with other creators, in this process or elsewhere.
package tagdir

import (
	"context"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

// Service is the subset of the document service the directory needs.
type Service interface {
	// FindTags returns tags whose name matches name case-insensitively.
	FindTags(ctx context.Context, name string) ([]documents.Tag, error)

	// GetTags returns the tags with the given ids; unknown ids are omitted.
	GetTags(ctx context.Context, ids []int) ([]documents.Tag, error)

	// CreateTag creates a tag. A name collision must be reported with an
	// error matching errors.ErrAlreadyExists.
	CreateTag(ctx context.Context, name string) (documents.Tag, error)
}

// Directory resolves tag names to ids and back.
type Directory struct {
	svc     Service
	byName  *gocache.Cache
	byID    *gocache.Cache
	flights singleflight.Group
	timeout time.Duration
	logger  *zerolog.Logger

	onCreate func(documents.Tag)
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the directory logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// WithTimeout bounds a shared lookup or create. Shared calls run detached
// from any one caller's cancellation, so this is their only deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Directory) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithOnCreate registers a callback invoked after this directory creates a tag.
func WithOnCreate(fn func(documents.Tag)) Option {
	return func(d *Directory) {
		d.onCreate = fn
	}
}

// New creates a Directory backed by svc.
func New(svc Service, opts ...Option) *Directory {
	d := &Directory{
		svc:    svc,
		byName:  gocache.New(gocache.NoExpiration, 0),
		byID:    gocache.New(gocache.NoExpiration, 0),
		timeout: constants.DefaultHTTPTimeout,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnsureID returns the id of the tag called name, creating the tag when the
// service does not have it. Concurrent calls for one name share a single
// lookup and at most one creation.
func (d *Directory) EnsureID(ctx context.Context, name string) (int, error) {
	if id, ok := d.cachedID(name); ok {
		return id, nil
	}

	v, err := d.share(ctx, "ensure", name, func(ctx context.Context) (any, error) {
		if id, ok := d.cachedID(name); ok {
			return id, nil
		}

		id, err := d.find(ctx, name)
		if err == nil {
			return id, nil
		}
		if !errors.IsNotFound(err) {
			return 0, err
		}

		tag, err := d.svc.CreateTag(ctx, name)
		if err != nil {
			if !errors.IsAlreadyExists(err) {
				return 0, err
			}
			// Someone else created it between our lookup and create.
			d.logger.Debug().Str("tag", name).Msg("Tag created concurrently, looking it up")
			return d.find(ctx, name)
		}

		d.store(tag)
		d.logger.Info().Str("tag", tag.Name).Int("tag_id", tag.ID).Msg("Created owner tag")
		if d.onCreate != nil {
			d.onCreate(tag)
		}
		return tag.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// LookupID returns the id of an existing tag called name. It never creates
// tags; an absent tag is an errors.NotFoundError.
func (d *Directory) LookupID(ctx context.Context, name string) (int, error) {
	if id, ok := d.cachedID(name); ok {
		return id, nil
	}

	v, err := d.share(ctx, "lookup", name, func(ctx context.Context) (any, error) {
		return d.find(ctx, name)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Names returns the names of the given tag ids. Ids the service no longer
// knows are left out of the result.
func (d *Directory) Names(ctx context.Context, ids []int) (map[int]string, error) {
	names := make(map[int]string, len(ids))
	var missing []int
	for _, id := range ids {
		if name, ok := d.cachedName(id); ok {
			names[id] = name
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names, nil
	}

	tags, err := d.svc.GetTags(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		d.store(tag)
		names[tag.ID] = tag.Name
	}
	return names, nil
}

// share runs fn once for all concurrent callers of op on name. fn keeps the
// first caller's values but not its cancellation; each caller still stops
// waiting when its own context ends.
func (d *Directory) share(ctx context.Context, op, name string, fn func(context.Context) (any, error)) (any, error) {
	ch := d.flights.DoChan(op+"\x00"+name, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, errors.WrapContext(op+" tag "+strconv.Quote(name), ctx.Err())
	}
}

// Len returns the number of cached tags.
func (d *Directory) Len() int {
	return d.byID.ItemCount()
}

// find queries the service for name, preferring an exact-case match. The
// service enforces case-insensitive uniqueness, so a case-insensitive match
// is the tag a create would have collided with.
func (d *Directory) find(ctx context.Context, name string) (int, error) {
	tags, err := d.svc.FindTags(ctx, name)
	if err != nil {
		return 0, err
	}

	var fallback *documents.Tag
	for i := range tags {
		if tags[i].Name == name {
			d.store(tags[i])
			return tags[i].ID, nil
		}
		if fallback == nil && strings.EqualFold(tags[i].Name, name) {
			fallback = &tags[i]
		}
	}
	if fallback != nil {
		d.store(*fallback)
		d.byName.Set(name, fallback.ID, gocache.NoExpiration)
		return fallback.ID, nil
	}
	return 0, errors.NewNotFoundError("tag", strconv.Quote(name))
}

func (d *Directory) store(tag documents.Tag) {
	d.byName.Set(tag.Name, tag.ID, gocache.NoExpiration)
	d.byID.Set(strconv.Itoa(tag.ID), tag.Name, gocache.NoExpiration)
}

func (d *Directory) cachedID(name string) (int, bool) {
	v, ok := d.byName.Get(name)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (d *Directory) cachedName(id int) (string, bool) {
	v, ok := d.byID.Get(strconv.Itoa(id))
	if !ok {
		return "", false
	}
	return v.(string), true
}
