package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/backend/memory"
	"github.com/marmos91/dittodrive/pkg/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	s3, blob, cdn *memory.Backend
	gateway       *metamemory.Gateway
	ledger        *Ledger
	collector     *Collector
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		s3:      memory.New(memory.WithType(backend.StorageTypeS3)),
		blob:    memory.New(),
		cdn:     memory.New(memory.WithType(backend.StorageTypeCDN)),
		gateway: metamemory.New(),
		ledger:  NewLedger(),
	}
	reg := &registry.Registry{
		CDN:  f.cdn,
		S3:   f.s3.Lister(),
		Blob: f.blob.Lister(),
	}
	require.NoError(t, reg.Validate())

	f.collector = NewCollector(f.gateway, reg, f.ledger, cfg, nil)
	f.collector.now = func() time.Time { return epoch }
	return f
}

func (f *fixture) record(t *testing.T, b *memory.Backend, path string) {
	t.Helper()
	b.Put(path, &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})
	_, err := f.gateway.CreateFile(context.Background(), &metadata.FileRecord{
		Name:        "file.txt",
		Size:        1,
		DownloadURL: "memory://" + path,
		StoragePath: path,
		StorageType: b.Type(),
		UserID:      "alice",
	})
	require.NoError(t, err)
}

func TestCollectDeletesUnreferencedObjects(t *testing.T) {
	f := newFixture(t, Config{})

	f.record(t, f.s3, "alice/1_kept.txt")
	f.record(t, f.blob, "alice/2_kept.txt")
	f.s3.Put("alice/3_orphan.txt", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-2 * time.Hour)})
	f.blob.Put("alice/4_orphan.txt", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-2 * time.Hour)})

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.True(t, f.s3.Exists("alice/1_kept.txt"))
	assert.True(t, f.blob.Exists("alice/2_kept.txt"))
	assert.False(t, f.s3.Exists("alice/3_orphan.txt"))
	assert.False(t, f.blob.Exists("alice/4_orphan.txt"))

	assert.Equal(t, uint64(2), stats.ReferencedCount)
	assert.Equal(t, uint64(4), stats.ExistingCount)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Equal(t, uint64(2), stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)
	assert.Contains(t, stats.Summary(), "deleted=2")
}

func TestCollectSkipsBackendsThatCannotList(t *testing.T) {
	f := newFixture(t, Config{})
	f.cdn.Put("orphan-on-cdn", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})

	_, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.True(t, f.cdn.Exists("orphan-on-cdn"))
	assert.Empty(t, f.cdn.DeleteCalls())
}

func TestCollectRespectsGracePeriod(t *testing.T) {
	f := newFixture(t, Config{GracePeriod: time.Hour})

	f.blob.Put("alice/young.txt", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-30 * time.Minute)})
	f.blob.Put("alice/old.txt", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-90 * time.Minute)})

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.True(t, f.blob.Exists("alice/young.txt"))
	assert.False(t, f.blob.Exists("alice/old.txt"))
	assert.Equal(t, uint64(1), stats.SkippedRecent)
	assert.Equal(t, uint64(1), stats.DeletedCount)
}

func TestCollectDryRun(t *testing.T) {
	f := newFixture(t, Config{DryRun: true})

	f.blob.Put("alice/orphan.txt", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})
	f.ledger.RecordOrphan(backend.StorageTypeS3, "alice/lost.txt", nil, errors.New("boom"))

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.DryRun)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)
	assert.True(t, f.blob.Exists("alice/orphan.txt"))
	assert.Empty(t, f.blob.DeleteCalls())
	assert.Empty(t, f.s3.DeleteCalls())
	assert.Equal(t, 1, f.ledger.Len())
}

func TestCollectCountsDeleteFailures(t *testing.T) {
	f := newFixture(t, Config{})

	f.blob.Put("a", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})
	f.blob.Put("b", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})
	f.blob.FailDeletes(errors.New("denied"))

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, 1, f.blob.Len())
}

func TestCollectBatchesDeletes(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		f.blob.Put(p, &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})
	}

	stats, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(5), stats.DeletedCount)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, f.blob.DeleteCalls())
	assert.Zero(t, f.blob.Len())
}

func TestCollectRetriesLedger(t *testing.T) {
	t.Run("ResolvedOnSuccess", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.cdn.Put("cdn/orphan", &memory.Object{Data: []byte("x")})
		f.ledger.RecordOrphan(backend.StorageTypeCDN, "cdn/orphan",
			&backend.DeleteHint{OwnerID: "alice", MimeType: "image/png"}, errors.New("timeout"))

		stats, err := f.collector.RunNow(context.Background())
		require.NoError(t, err)

		assert.Equal(t, uint64(1), stats.LedgerAttempted)
		assert.Equal(t, uint64(1), stats.LedgerCleared)
		assert.Zero(t, f.ledger.Len())
		assert.False(t, f.cdn.Exists("cdn/orphan"))
	})

	t.Run("KeptOnFailure", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.ledger.RecordOrphan(backend.StorageTypeCDN, "cdn/orphan", nil, errors.New("timeout"))
		f.cdn.FailDeletes(errors.New("still down"))

		stats, err := f.collector.RunNow(context.Background())
		require.NoError(t, err)

		assert.Zero(t, stats.LedgerCleared)
		entries := f.ledger.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].Attempts)
		assert.Equal(t, "still down", entries[0].LastError)
	})

	t.Run("UnconfiguredSlot", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.ledger.RecordOrphan(backend.StorageTypeDrive, "file-id", nil, errors.New("timeout"))

		_, err := f.collector.RunNow(context.Background())
		require.NoError(t, err)

		entries := f.ledger.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].Attempts)
	})
}

func TestCollectStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, Config{})
	f.blob.Put("a", &memory.Object{Data: []byte("x"), CreatedAt: epoch.Add(-48 * time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.collector.RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.blob.Exists("a"))
}

type recordingMetrics struct {
	runs       int
	lastErr    error
	ledgerSize int
}

func (m *recordingMetrics) ObserveRun(_ *Stats, err error) {
	m.runs++
	m.lastErr = err
}

func (m *recordingMetrics) SetLedgerSize(n int) { m.ledgerSize = n }

func TestCollectReportsMetrics(t *testing.T) {
	f := newFixture(t, Config{})
	m := &recordingMetrics{}
	f.collector.metrics = m
	f.ledger.RecordOrphan(backend.StorageTypeDrive, "file-id", nil, nil)

	_, err := f.collector.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, m.runs)
	assert.NoError(t, m.lastErr)
	assert.Equal(t, 1, m.ledgerSize)
}

func TestStartStop(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.collector.Start()
		assert.NoError(t, f.collector.Stop(context.Background()))
	})

	t.Run("Enabled", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true, Interval: time.Hour})
		f.collector.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.collector.Stop(ctx))
		require.NoError(t, f.collector.Stop(ctx))
	})
}

func TestNewCollectorDefaults(t *testing.T) {
	c := NewCollector(metamemory.New(), &registry.Registry{Blob: memory.New()}, nil, Config{}, nil)

	assert.Equal(t, 24*time.Hour, c.config.Interval)
	assert.Equal(t, time.Hour, c.config.GracePeriod)
	assert.Equal(t, 1000, c.config.BatchSize)
	assert.Equal(t, 10*time.Minute, c.config.Timeout)
	assert.NotNil(t, c.Ledger())
}
