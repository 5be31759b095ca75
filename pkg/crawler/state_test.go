package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/queue"
	"github.com/Sriram-PR/harvest/pkg/storage"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

func newTestStore(t *testing.T, dir string) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(context.Background(), dir, "test-project", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveState_RequiresStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/")
	c := newTestCoordinator(t, cfg, Options{})
	assert.ErrorIs(t, c.SaveState(), utils.ErrDatabase)
}

func TestGetState_CapturesQueuesAndLedger(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/")
	c := newTestCoordinator(t, cfg, Options{})

	child, _, err := c.Registry().RegisterLink("/child.html", models.TypeAnchor, c.seedIndex)
	require.NoError(t, err)
	c.crawlQ.Restore([]queue.Entry[*models.Collection]{{Priority: 1, Value: &models.Collection{Priority: 1, Source: c.seedIndex, Children: []int{child}}}})
	c.ledger.RecordSaved(models.URL{Index: c.seedIndex, URL: cfg.SeedURL, Type: models.TypeWebpage}, "/tmp/seed", 12)
	c.ledger.AddFailed(child)

	snap := c.GetState()
	assert.Equal(t, c.SessionID(), snap.SessionID)
	assert.Equal(t, "test-project", snap.Project)
	assert.Equal(t, c.seedIndex, snap.SeedIndex)
	assert.Len(t, snap.URLs, 2)
	assert.Equal(t, map[int][]int{c.seedIndex: {child}}, snap.LinkTree)
	require.Len(t, snap.CrawlQueue, 1)
	assert.Equal(t, []int{child}, snap.CrawlQueue[0].Collection.Children)
	assert.Empty(t, snap.FetchQueue)
	assert.Len(t, snap.Saved, 1)
	assert.Equal(t, []int{child}, snap.Failed)

	// The snapshot is a copy
	snap.CrawlQueue[0].Collection.Children[0] = 99
	assert.Equal(t, []int{child}, c.crawlQ.Entries()[0].Value.Children)
}

func TestRestart_RejectsBadSnapshot(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/")
	c := New(cfg, Options{}, testLogger())

	assert.ErrorIs(t, c.Restart(nil), utils.ErrNotFound)
	assert.ErrorIs(t, c.Restart(&models.Snapshot{SessionID: "s", SeedIndex: 3}), utils.ErrNotFound)
}

func TestSaveRestart_ResumesInterruptedCrawl(t *testing.T) {
	site := newTestSite(map[string]string{
		"/":       `<html><body><a href="/a.html">A</a><a href="/b.html">B</a></body></html>`,
		"/a.html": `<html><body>a</body></html>`,
		"/b.html": `<html><body>b</body></html>`,
	})
	srv := startSite(t, site)
	stateDir := t.TempDir()

	// First run: seed registered and queued, then interrupted before any fetch
	cfg := testConfig(t, srv.URL+"/")
	store := newTestStore(t, stateDir)
	first := newTestCoordinator(t, cfg, Options{Sessions: store})
	first.fetchQ.Restore([]queue.Entry[*models.Collection]{{Priority: 0, Value: &models.Collection{Source: first.seedIndex}}})
	require.NoError(t, first.SaveState())

	id, found, err := store.LatestSession()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.SessionID(), id)

	snap, err := store.LoadSnapshot(id)
	require.NoError(t, err)

	second := New(cfg, Options{Sessions: store}, testLogger())
	require.NoError(t, second.Restart(snap))
	assert.Equal(t, first.SessionID(), second.SessionID())
	assert.Equal(t, 1, second.fetchQ.Len())

	require.NoError(t, crawl(t, second, 20*time.Second))
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/a.html", srv.URL + "/b.html"}, savedURLs(second))
	assert.Equal(t, 1, site.Hits("/"))
}

func TestRestart_WorkerInheritsInFlight(t *testing.T) {
	site := newTestSite(map[string]string{
		"/":       `<html><body><a href="/a.html">A</a></body></html>`,
		"/a.html": `<html><body>a</body></html>`,
	})
	srv := startSite(t, site)

	cfg := testConfig(t, srv.URL+"/")
	first := newTestCoordinator(t, cfg, Options{})
	seed := first.seedIndex

	// The seed page was downloaded but not parsed when the snapshot was taken
	body := []byte(site.pages["/"])
	require.NoError(t, first.Registry().Update(seed, func(u *models.URL) {
		u.Download = models.DownloadDone
	}))
	snap := first.GetState()
	snap.Workers = []models.WorkerState{{
		Role:     models.RoleFetcher,
		Slot:     2,
		InFlight: &models.Collection{Source: seed},
		Pending:  map[int][]byte{seed: body},
	}}

	second := New(cfg, Options{}, testLogger())
	require.NoError(t, second.Restart(snap))
	require.NoError(t, crawl(t, second, 20*time.Second))

	assert.Equal(t, 0, site.Hits("/"), "pending body is parsed without refetching")
	assert.Equal(t, 1, site.Hits("/a.html"))
	a := lookupPath(t, second, srv.URL+"/a.html")
	assert.NotEmpty(t, a.LocalPath)
}

func TestRestart_SingleThreadedRequeuesWorkers(t *testing.T) {
	site := newTestSite(map[string]string{
		"/":       `<html><body><a href="/a.html">A</a></body></html>`,
		"/a.html": `<html><body>a</body></html>`,
	})
	srv := startSite(t, site)

	cfg := testConfig(t, srv.URL+"/")
	first := newTestCoordinator(t, cfg, Options{})
	snap := first.GetState()
	snap.Workers = []models.WorkerState{{
		Role:     models.RoleFetcher,
		Slot:     1,
		InFlight: &models.Collection{Source: first.seedIndex},
	}}

	cfg.SingleThreaded = true
	second := New(cfg, Options{}, testLogger())
	require.NoError(t, second.Restart(snap))
	assert.Equal(t, 1, second.fetchQ.Len())

	require.NoError(t, crawl(t, second, 20*time.Second))
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/a.html"}, savedURLs(second))
}
