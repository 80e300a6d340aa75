package reconciler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ownertag/internal/papertest"
	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
	"github.com/agentstation/ownertag/pkg/mapping"
	"github.com/agentstation/ownertag/pkg/reconciler"
	"github.com/agentstation/ownertag/pkg/tagdir"
)

type fixture struct {
	svc *papertest.Service
	rec reconciler.Reconciler
}

func newFixture(t *testing.T, overrides map[string]string, opts ...reconciler.Option) *fixture {
	t.Helper()
	svc := papertest.New()
	dir := tagdir.New(svc, tagdir.WithLogger(logging.NewNopLogger()))
	opts = append([]reconciler.Option{reconciler.WithLogger(logging.NewNopLogger())}, opts...)
	rec, err := reconciler.New(svc, dir, mapping.New("owner:", overrides), opts...)
	require.NoError(t, err)
	return &fixture{svc: svc, rec: rec}
}

func TestNewRequiresDependencies(t *testing.T) {
	svc := papertest.New()
	dir := tagdir.New(svc)
	resolver := mapping.New("owner:", nil)

	_, err := reconciler.New(nil, dir, resolver)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconciler.New(svc, nil, resolver)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconciler.New(svc, dir, nil)
	assert.True(t, errors.IsValidationError(err))
	_, err = reconciler.New(svc, dir, resolver, reconciler.WithTimeout(-time.Second))
	assert.True(t, errors.IsValidationError(err))
}

func TestReconcileAddsPrefixTag(t *testing.T) {
	f := newFixture(t, nil)
	invoice := f.svc.AddTag("invoice")
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john", Tags: []int{invoice}})

	res, err := f.rec.ReconcileID(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, reconciler.StatusUpdated, res.Status)
	assert.Equal(t, "owner:john", res.Desired)
	assert.Equal(t, mapping.SourcePrefix, res.Source)
	assert.Equal(t, []string{"invoice", "owner:john"}, f.svc.TagNames(1))
	assert.Equal(t, 1, f.svc.Creates())
	assert.Equal(t, 1, f.svc.Updates())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john"})

	first, err := f.rec.ReconcileID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, err := f.rec.ReconcileID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, reconciler.StatusUnchanged, second.Status)
	assert.Empty(t, second.Added)
	assert.Empty(t, second.Removed)
	assert.Equal(t, 1, f.svc.Updates(), "second run must not write")
}

func TestReconcileReplacesStaleOwnerTag(t *testing.T) {
	f := newFixture(t, nil)
	old := f.svc.AddTag("owner:jane")
	keep := f.svc.AddTag("receipts")
	f.svc.AddDocument(documents.Document{ID: 7, Owner: "john", Tags: []int{old, keep}})

	res, err := f.rec.ReconcileID(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []int{old}, res.Removed)
	assert.Len(t, res.Added, 1)
	assert.Equal(t, []string{"owner:john", "receipts"}, f.svc.TagNames(7))
	// Retained tags keep their position; the new tag is appended.
	assert.Equal(t, []int{keep, res.Added[0]}, f.svc.Document(7).Tags)
}

func TestReconcileRemovesEveryStaleOwnerTag(t *testing.T) {
	f := newFixture(t, map[string]string{"admin": "Administrator"})
	a := f.svc.AddTag("owner:jane")
	b := f.svc.AddTag("Administrator")
	c := f.svc.AddTag("owner:john")
	f.svc.AddDocument(documents.Document{ID: 3, Owner: "john", Tags: []int{a, b, c}})

	res, err := f.rec.ReconcileID(context.Background(), 3)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{a, b}, res.Removed)
	assert.Empty(t, res.Added)
	assert.Equal(t, []string{"owner:john"}, f.svc.TagNames(3))
	assert.Equal(t, 0, f.svc.Creates())
}

func TestReconcileUsesMappingOverride(t *testing.T) {
	f := newFixture(t, map[string]string{"admin": "Administrator"})
	admin := f.svc.AddTag("Administrator")
	f.svc.AddDocument(documents.Document{ID: 2, Owner: "admin"})

	res, err := f.rec.ReconcileID(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, mapping.SourceMapping, res.Source)
	assert.Equal(t, []int{admin}, res.Added)
	assert.Equal(t, []string{"Administrator"}, f.svc.TagNames(2))
	assert.Equal(t, 0, f.svc.Creates(), "mapped tags are never created")
}

func TestReconcileMissingMappedTagIsConfigurationError(t *testing.T) {
	f := newFixture(t, map[string]string{"admin": "Administrator"})
	stale := f.svc.AddTag("owner:jane")
	f.svc.AddDocument(documents.Document{ID: 2, Owner: "admin", Tags: []int{stale}})

	res, err := f.rec.ReconcileID(context.Background(), 2)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsConfiguration(err))
	assert.Equal(t, "configuration", errors.Kind(err))
	assert.Contains(t, err.Error(), "Administrator")

	assert.Equal(t, 0, f.svc.Creates())
	assert.Equal(t, 0, f.svc.Updates())
	assert.Equal(t, []string{"owner:jane"}, f.svc.TagNames(2))
}

func TestReconcileNoOwnerStripsOwnerTags(t *testing.T) {
	f := newFixture(t, nil)
	stale := f.svc.AddTag("owner:john")
	other := f.svc.AddTag("tax")
	f.svc.AddDocument(documents.Document{ID: 4, Tags: []int{stale, other}})

	res, err := f.rec.ReconcileID(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, mapping.SourceNone, res.Source)
	assert.Equal(t, []int{stale}, res.Removed)
	assert.Equal(t, []int{other}, f.svc.Document(4).Tags)
}

func TestReconcileNoOwnerNoTagsIsUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.AddDocument(documents.Document{ID: 4})

	res, err := f.rec.ReconcileID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, reconciler.StatusUnchanged, res.Status)
	assert.Equal(t, 0, f.svc.Updates())
	assert.Equal(t, 0, f.svc.Calls("CreateTag"))
}

func TestReconcileFollowsOwnerChange(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.AddDocument(documents.Document{ID: 5, Owner: "john"})

	_, err := f.rec.ReconcileID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner:john"}, f.svc.TagNames(5))

	f.svc.SetOwner(5, "jane")
	_, err = f.rec.ReconcileID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner:jane"}, f.svc.TagNames(5))
}

func TestReconcileAdoptedCaseVariantFollowsOwnerChange(t *testing.T) {
	f := newFixture(t, nil)
	existing := f.svc.AddTag("Owner:John")
	f.svc.AddDocument(documents.Document{ID: 5, Owner: "John"})

	res, err := f.rec.ReconcileID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{existing}, res.Added, "existing tag is reused, not duplicated")
	assert.Zero(t, f.svc.Creates())

	res, err = f.rec.ReconcileID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, reconciler.StatusUnchanged, res.Status)

	f.svc.SetOwner(5, "Jane")
	res, err = f.rec.ReconcileID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{existing}, res.Removed)
	assert.Equal(t, []string{"owner:Jane"}, f.svc.TagNames(5))
}

func TestReconcileAdoptedMappedCaseVariantIsRemoved(t *testing.T) {
	f := newFixture(t, map[string]string{"John": "team-a"})
	existing := f.svc.AddTag("Team-A")
	f.svc.AddDocument(documents.Document{ID: 6, Owner: "John"})

	res, err := f.rec.ReconcileID(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, []int{existing}, res.Added)
	assert.Equal(t, []string{"Team-A"}, f.svc.TagNames(6))

	f.svc.SetOwner(6, "")
	res, err = f.rec.ReconcileID(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, reconciler.StatusUpdated, res.Status)
	assert.Equal(t, []int{existing}, res.Removed)
	assert.Empty(t, f.svc.TagNames(6))
}

func TestReconcileDeletedDocumentIsSkipped(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.rec.ReconcileID(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, reconciler.StatusSkipped, res.Status)
	assert.Equal(t, 99, res.DocumentID)
}

func TestReconcileSurfacesTransientErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john"})
	f.svc.Fail("UpdateDocumentTags", errors.NewTransientError("update document", errors.New("connection reset")))

	_, err := f.rec.ReconcileID(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// The next run converges once the service recovers.
	f.svc.Fail("UpdateDocumentTags", nil)
	res, err := f.rec.ReconcileID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Equal(t, 1, f.svc.Creates())
}

func TestReconcileDryRun(t *testing.T) {
	f := newFixture(t, nil, reconciler.WithDryRun(true))
	f.svc.AddTag("owner:john")
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john"})

	res, err := f.rec.ReconcileID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Changed())
	assert.Equal(t, 0, f.svc.Updates())
	assert.Empty(t, f.svc.TagNames(1))
}

func TestReconcileSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.AddDocument(documents.Document{ID: 8, Owner: "john"})

	res, err := f.rec.Reconcile(context.Background(), &documents.Document{ID: 8, Owner: "john"})
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Equal(t, 0, f.svc.Calls("GetDocument"))

	_, err = f.rec.Reconcile(context.Background(), nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestReconcileObserver(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []reconciler.Status
	)
	f := newFixture(t, nil, reconciler.WithObserver(func(res *reconciler.Result, err error, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			statuses = append(statuses, res.Status)
		}
	}))
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john"})

	for range 2 {
		_, err := f.rec.ReconcileID(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, []reconciler.Status{reconciler.StatusUpdated, reconciler.StatusUnchanged}, statuses)
}

func TestReconcileConcurrentSameDocument(t *testing.T) {
	f := newFixture(t, nil)
	invoice := f.svc.AddTag("invoice")
	f.svc.AddDocument(documents.Document{ID: 1, Owner: "john", Tags: []int{invoice}})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.ReconcileID(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"invoice", "owner:john"}, f.svc.TagNames(1))
	assert.Equal(t, 1, f.svc.Creates())
	assert.Equal(t, 1, f.svc.Updates())
}

func TestReconcileConcurrentSharedOwner(t *testing.T) {
	f := newFixture(t, nil)
	for id := 1; id <= 20; id++ {
		f.svc.AddDocument(documents.Document{ID: id, Owner: "jane"})
	}

	var wg sync.WaitGroup
	for id := 1; id <= 20; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.ReconcileID(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.svc.Creates(), "owner tag created once")
	for id := 1; id <= 20; id++ {
		assert.Equal(t, []string{"owner:jane"}, f.svc.TagNames(id))
	}
}
