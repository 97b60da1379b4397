package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/transport"
)

var jarKey = resource.MustKey("https://repo.example.com/maven2/org/lib/1.0/lib-1.0.jar")

type originObject struct {
	body []byte
	meta resource.Metadata
}

// fakeOrigin 是计数的内存源站。
type fakeOrigin struct {
	mu      sync.Mutex
	objects map[resource.Key]originObject
	// openBody 非空时替代默认正文读取器，用于模拟慢速下载。
	openBody func(body []byte) io.Reader

	heads atomic.Int32
	gets  atomic.Int32
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{objects: map[resource.Key]originObject{}}
}

func (o *fakeOrigin) set(key resource.Key, body []byte, meta resource.Metadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = originObject{body: append([]byte(nil), body...), meta: meta}
}

func (o *fakeOrigin) remove(key resource.Key) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
}

func (o *fakeOrigin) lookup(uri string) (originObject, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, ok := o.objects[resource.Key(uri)]
	if !ok {
		return originObject{}, resource.ErrNotFound
	}
	return obj, nil
}

func (o *fakeOrigin) Metadata(ctx context.Context, uri string) (resource.Metadata, error) {
	o.heads.Add(1)
	obj, err := o.lookup(uri)
	if err != nil {
		return resource.Metadata{}, err
	}
	return obj.meta, nil
}

func (o *fakeOrigin) Open(ctx context.Context, uri string) (*transport.Response, error) {
	o.gets.Add(1)
	obj, err := o.lookup(uri)
	if err != nil {
		return nil, err
	}
	var body io.Reader = bytes.NewReader(obj.body)
	if o.openBody != nil {
		body = o.openBody(obj.body)
	}
	return &transport.Response{Metadata: obj.meta, Body: io.NopCloser(body)}, nil
}

func (o *fakeOrigin) calls() (heads, gets int32) {
	return o.heads.Load(), o.gets.Load()
}

type harness struct {
	origin  *fakeOrigin
	index   *cache.LevelIndex
	stager  *cache.Stager
	fetcher *Fetcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	stager, err := cache.NewStager(root)
	if err != nil {
		t.Fatalf("stager error: %v", err)
	}
	index, err := cache.OpenLevelIndex(filepath.Join(root, "index"), root)
	if err != nil {
		t.Fatalf("index error: %v", err)
	}
	t.Cleanup(func() { _ = index.Close() })

	origin := newFakeOrigin()
	f, err := New(Options{Name: "central", Accessor: origin, Index: index, Stager: stager, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	return &harness{origin: origin, index: index, stager: stager, fetcher: f}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// mustFetch 在 epoch 下获取 jarKey，失败即终止测试。
func (h *harness) mustFetch(t *testing.T, epoch resource.Epoch) *Artifact {
	t.Helper()
	artifact, err := h.fetcher.Fetch(context.Background(), epoch, jarKey)
	if err != nil {
		t.Fatalf("fetch at epoch %d: %v", epoch, err)
	}
	return artifact
}

func (h *harness) expectCalls(t *testing.T, heads, gets int32) {
	t.Helper()
	gotHeads, gotGets := h.origin.calls()
	if gotHeads != heads || gotGets != gets {
		t.Fatalf("origin calls: heads=%d gets=%d, want heads=%d gets=%d", gotHeads, gotGets, heads, gets)
	}
}

func (h *harness) expectNoEntry(t *testing.T) {
	t.Helper()
	if _, err := h.index.Lookup(context.Background(), jarKey); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("index should have no entry, got %v", err)
	}
}

func expectSource(t *testing.T, artifact *Artifact, want Source) {
	t.Helper()
	if artifact.Source != want {
		t.Fatalf("source = %s, want %s", artifact.Source, want)
	}
}

func expectContent(t *testing.T, artifact *Artifact, want string) {
	t.Helper()
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != want {
		t.Fatalf("artifact content = %q, want %q", data, want)
	}
}

func sha256Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return resource.FormatContentHash("sha256", hex.EncodeToString(sum[:]))
}

func metaFor(body []byte, modified time.Time) resource.Metadata {
	return resource.Metadata{Size: int64(len(body)), LastModified: modified}
}

func stagedFiles(t *testing.T, stager *cache.Stager) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(stager.Root(), "tmp", "*"))
	if err != nil {
		t.Fatalf("glob staging dir: %v", err)
	}
	return matches
}

var (
	t1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func TestFetchRevalidatesOncePerEpoch(t *testing.T) {
	h := newHarness(t)
	e1, e2, e3 := resource.Epoch(1000), resource.Epoch(2000), resource.Epoch(3000)

	h.origin.set(jarKey, []byte("v1"), metaFor([]byte("v1"), t1))

	first := h.mustFetch(t, e1)
	expectSource(t, first, SourceDownload)
	expectContent(t, first, "v1")
	if first.Epoch != e1 {
		t.Fatalf("artifact epoch = %d, want %d", first.Epoch, e1)
	}
	// 未命中只需一次 GET，不额外查询元数据。
	h.expectCalls(t, 0, 1)

	again := h.mustFetch(t, e1)
	expectSource(t, again, SourceCache)
	if again.Path != first.Path {
		t.Fatalf("same epoch should return the same file: %s vs %s", again.Path, first.Path)
	}
	h.expectCalls(t, 0, 1)

	revalidated := h.mustFetch(t, e2)
	expectSource(t, revalidated, SourceRevalidated)
	expectContent(t, revalidated, "v1")
	if revalidated.Epoch != e2 {
		t.Fatalf("revalidated epoch = %d, want %d", revalidated.Epoch, e2)
	}
	h.expectCalls(t, 1, 1)

	expectSource(t, h.mustFetch(t, e2), SourceCache)
	h.expectCalls(t, 1, 1)

	h.origin.set(jarKey, []byte("version-2"), metaFor([]byte("version-2"), t2))
	updated := h.mustFetch(t, e3)
	expectSource(t, updated, SourceDownload)
	expectContent(t, updated, "version-2")
	if !updated.Metadata.LastModified.Equal(t2) {
		t.Fatalf("metadata should follow the origin, got %v", updated.Metadata.LastModified)
	}
	h.expectCalls(t, 2, 2)

	entry, err := h.index.Lookup(context.Background(), jarKey)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if entry.CheckedAt != e3 || entry.StoredSize != int64(len("version-2")) {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestConcurrentFetchSharesOneRemoteCall(t *testing.T) {
	h := newHarness(t)
	body := bytes.Repeat([]byte("x"), 256*1024)
	h.origin.set(jarKey, body, metaFor(body, t1))

	release := make(chan struct{})
	h.origin.openBody = func(b []byte) io.Reader {
		return io.MultiReader(gateReader(release), bytes.NewReader(b))
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Artifact, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.fetcher.Fetch(context.Background(), resource.Epoch(1), jarKey)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Path != results[0].Path || results[i].Size != int64(len(body)) {
			t.Fatalf("caller %d got a different artifact: %+v", i, results[i])
		}
	}
	h.expectCalls(t, 0, 1)
}

func TestConcurrentFetchDifferentKeysRunInParallel(t *testing.T) {
	h := newHarness(t)
	other := resource.MustKey("https://repo.example.com/maven2/org/lib/1.0/lib-1.0.pom")
	h.origin.set(jarKey, []byte("jar"), metaFor([]byte("jar"), t1))
	h.origin.set(other, []byte("pom"), metaFor([]byte("pom"), t1))

	var inFlight atomic.Int32
	bothStarted := make(chan struct{})
	var once sync.Once
	h.origin.openBody = func(b []byte) io.Reader {
		if inFlight.Add(1) == 2 {
			once.Do(func() { close(bothStarted) })
		}
		return io.MultiReader(gateReader(bothStarted), bytes.NewReader(b))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, key := range []resource.Key{jarKey, other} {
		wg.Add(1)
		go func(key resource.Key) {
			defer wg.Done()
			if _, err := h.fetcher.Fetch(ctx, resource.Epoch(1), key); err != nil {
				t.Errorf("fetch %s: %v", key, err)
			}
		}(key)
	}
	wg.Wait()
	h.expectCalls(t, 0, 2)
}

func TestContentHashTakesPrecedence(t *testing.T) {
	h := newHarness(t)

	v1 := []byte("aaaa")
	v2 := []byte("bbbb")
	h.origin.set(jarKey, v1, resource.Metadata{Size: 4, LastModified: t1, ContentHash: sha256Hash(v1)})
	h.mustFetch(t, resource.Epoch(1))

	// 相同长度与修改时间，但摘要不同：必须重新下载。
	h.origin.set(jarKey, v2, resource.Metadata{Size: 4, LastModified: t1, ContentHash: sha256Hash(v2)})
	artifact := h.mustFetch(t, resource.Epoch(2))
	expectSource(t, artifact, SourceDownload)
	expectContent(t, artifact, "bbbb")

	// 摘要相同而修改时间变化：视为未变化。
	h.origin.set(jarKey, v2, resource.Metadata{Size: 4, LastModified: t2, ContentHash: sha256Hash(v2)})
	expectSource(t, h.mustFetch(t, resource.Epoch(3)), SourceRevalidated)
	if _, gets := h.origin.calls(); gets != 2 {
		t.Fatalf("expected 2 downloads, got %d", gets)
	}
}

func TestETagDecidesWithoutContentHash(t *testing.T) {
	h := newHarness(t)

	h.origin.set(jarKey, []byte("v1"), resource.Metadata{Size: 2, LastModified: t1, ETag: "abc"})
	h.mustFetch(t, resource.Epoch(1))

	h.origin.set(jarKey, []byte("v1"), resource.Metadata{Size: 2, LastModified: t2, ETag: "abc"})
	expectSource(t, h.mustFetch(t, resource.Epoch(2)), SourceRevalidated)

	h.origin.set(jarKey, []byte("v2"), resource.Metadata{Size: 2, LastModified: t2, ETag: "def"})
	artifact := h.mustFetch(t, resource.Epoch(3))
	expectSource(t, artifact, SourceDownload)
	expectContent(t, artifact, "v2")
}

func TestEntryWithoutValidatorsIsRefetched(t *testing.T) {
	h := newHarness(t)

	h.origin.set(jarKey, []byte("v1"), resource.Metadata{Size: 2})
	h.mustFetch(t, resource.Epoch(1))

	expectSource(t, h.mustFetch(t, resource.Epoch(2)), SourceDownload)
	// 没有可比较的校验信息，因此不发元数据查询。
	h.expectCalls(t, 0, 2)
}

func TestNotFoundKeepsStaleEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.origin.set(jarKey, []byte("v1"), metaFor([]byte("v1"), t1))
	first := h.mustFetch(t, resource.Epoch(1))

	h.origin.remove(jarKey)
	if _, err := h.fetcher.Fetch(ctx, resource.Epoch(2), jarKey); !resource.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	entry, err := h.index.Lookup(ctx, jarKey)
	if err != nil {
		t.Fatalf("stale entry should survive: %v", err)
	}
	if entry.CheckedAt != resource.Epoch(1) || entry.Path != first.Path {
		t.Fatalf("stale entry must be left untouched: %+v", entry)
	}

	h.origin.set(jarKey, []byte("v1"), metaFor([]byte("v1"), t1))
	expectSource(t, h.mustFetch(t, resource.Epoch(3)), SourceRevalidated)
}

func TestMissingResourceReportsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.fetcher.Fetch(context.Background(), resource.Epoch(1), jarKey)
	if !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	h.expectNoEntry(t)
}

func TestCorruptedEntryIsRefetched(t *testing.T) {
	h := newHarness(t)

	h.origin.set(jarKey, []byte("v1"), metaFor([]byte("v1"), t1))
	first := h.mustFetch(t, resource.Epoch(1))
	if err := os.Remove(first.Path); err != nil {
		t.Fatalf("remove cached file: %v", err)
	}

	artifact := h.mustFetch(t, resource.Epoch(1))
	expectSource(t, artifact, SourceDownload)
	expectContent(t, artifact, "v1")
	h.expectCalls(t, 0, 2)
}

func TestTruncatedFileIsRefetched(t *testing.T) {
	h := newHarness(t)

	h.origin.set(jarKey, []byte("complete"), metaFor([]byte("complete"), t1))
	first := h.mustFetch(t, resource.Epoch(1))
	if err := os.WriteFile(first.Path, []byte("comp"), 0o644); err != nil {
		t.Fatalf("truncate cached file: %v", err)
	}

	artifact := h.mustFetch(t, resource.Epoch(2))
	expectSource(t, artifact, SourceDownload)
	expectContent(t, artifact, "complete")
}

func TestIntegrityFailureKeepsPriorEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v1 := []byte("good")
	h.origin.set(jarKey, v1, resource.Metadata{Size: 4, LastModified: t1, ContentHash: sha256Hash(v1)})
	first := h.mustFetch(t, resource.Epoch(1))

	h.origin.set(jarKey, []byte("evil"), resource.Metadata{Size: 4, LastModified: t2, ContentHash: sha256Hash([]byte("fine"))})
	if _, err := h.fetcher.Fetch(ctx, resource.Epoch(2), jarKey); !resource.IsIntegrity(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}

	entry, err := h.index.Lookup(ctx, jarKey)
	if err != nil {
		t.Fatalf("prior entry should survive: %v", err)
	}
	if entry.CheckedAt != resource.Epoch(1) || entry.Metadata.ContentHash != sha256Hash(v1) {
		t.Fatalf("prior entry must be left untouched: %+v", entry)
	}
	expectContent(t, first, "good")
	if staged := stagedFiles(t, h.stager); len(staged) != 0 {
		t.Fatalf("rejected content must be discarded, found %v", staged)
	}
}

func TestSizeMismatchIsIntegrityError(t *testing.T) {
	h := newHarness(t)
	h.origin.set(jarKey, []byte("short"), resource.Metadata{Size: 1024, LastModified: t1})

	_, err := h.fetcher.Fetch(context.Background(), resource.Epoch(1), jarKey)
	var integrity *resource.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected *resource.IntegrityError, got %v", err)
	}
	if integrity.Field != "size" {
		t.Fatalf("integrity field = %s, want size", integrity.Field)
	}
	h.expectNoEntry(t)
}

func TestCancellationLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	body := bytes.Repeat([]byte("y"), 128*1024)
	h.origin.set(jarKey, body, metaFor(body, t1))

	started := make(chan struct{})
	release := make(chan struct{})
	h.origin.openBody = func(b []byte) io.Reader {
		return io.MultiReader(bytes.NewReader(b[:1024]), signalReader(started), gateReader(release), bytes.NewReader(b[1024:]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.fetcher.Fetch(ctx, resource.Epoch(1), jarKey)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for len(stagedFiles(t, h.stager)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("staging file left behind after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.expectNoEntry(t)

	h.origin.openBody = nil
	artifact := h.mustFetch(t, resource.Epoch(1))
	expectSource(t, artifact, SourceDownload)
	if artifact.Size != int64(len(body)) {
		t.Fatalf("artifact size = %d, want %d", artifact.Size, len(body))
	}
}

func TestFollowerSurvivesLeaderCancellation(t *testing.T) {
	h := newHarness(t)
	body := []byte("shared")
	h.origin.set(jarKey, body, metaFor(body, t1))

	started := make(chan struct{})
	release := make(chan struct{})
	var opened atomic.Int32
	h.origin.openBody = func(b []byte) io.Reader {
		if opened.Add(1) == 1 {
			return io.MultiReader(signalReader(started), gateReader(release), bytes.NewReader(b))
		}
		return bytes.NewReader(b)
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := h.fetcher.Fetch(leaderCtx, resource.Epoch(1), jarKey)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan *Artifact, 1)
	go func() {
		artifact, err := h.fetcher.Fetch(context.Background(), resource.Epoch(1), jarKey)
		if err != nil {
			t.Errorf("follower: %v", err)
		}
		followerDone <- artifact
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	close(release)
	if err := <-leaderDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader should be cancelled, got %v", err)
	}

	select {
	case artifact := <-followerDone:
		if artifact == nil {
			t.Fatalf("follower returned no artifact")
		}
		expectContent(t, artifact, "shared")
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not complete after the leader was cancelled")
	}
}

func TestNewerEpochWaitsForOlderDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e1, e2 := resource.Epoch(1000), resource.Epoch(2000)
	h.origin.set(jarKey, []byte("a"), resource.Metadata{Size: 1, ETag: "a"})

	started := make(chan struct{})
	release := make(chan struct{})
	var opened, active, maxActive atomic.Int32
	h.origin.openBody = func(b []byte) io.Reader {
		if n := active.Add(1); n > maxActive.Load() {
			maxActive.Store(n)
		}
		done := readerFunc(func(p []byte) (int, error) {
			active.Add(-1)
			return 0, io.EOF
		})
		if opened.Add(1) == 1 {
			return io.MultiReader(signalReader(started), gateReader(release), bytes.NewReader(b), done)
		}
		return io.MultiReader(bytes.NewReader(b), done)
	}

	olderDone := make(chan *Artifact, 1)
	go func() {
		artifact, err := h.fetcher.Fetch(ctx, e1, jarKey)
		if err != nil {
			t.Errorf("older epoch fetch: %v", err)
		}
		olderDone <- artifact
	}()
	<-started

	h.origin.set(jarKey, []byte("b"), resource.Metadata{Size: 1, ETag: "b"})
	newerDone := make(chan *Artifact, 1)
	go func() {
		artifact, err := h.fetcher.Fetch(ctx, e2, jarKey)
		if err != nil {
			t.Errorf("newer epoch fetch: %v", err)
		}
		newerDone <- artifact
	}()
	time.Sleep(50 * time.Millisecond)
	if _, gets := h.origin.calls(); gets != 1 {
		t.Fatalf("a second download started while the first was in flight: gets=%d", gets)
	}

	close(release)
	older := <-olderDone
	newer := <-newerDone
	if older == nil || newer == nil {
		t.Fatalf("both fetches should succeed")
	}
	if older.Epoch != e1 || newer.Epoch != e2 {
		t.Fatalf("unexpected epochs: older=%d newer=%d", older.Epoch, newer.Epoch)
	}
	if newer.Metadata.ETag != "b" {
		t.Fatalf("newer epoch should observe the changed resource, got %q", newer.Metadata.ETag)
	}
	expectContent(t, newer, "b")
	if maxActive.Load() != 1 {
		t.Fatalf("downloads of one key overlapped: %d at once", maxActive.Load())
	}

	entry, err := h.index.Lookup(ctx, jarKey)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if entry.CheckedAt != e2 || entry.Metadata.ETag != "b" {
		t.Fatalf("newer epoch record must survive: %+v", entry)
	}

	heads, gets := h.origin.calls()
	again := h.mustFetch(t, e2)
	expectSource(t, again, SourceCache)
	expectContent(t, again, "b")
	// 同一纪元内不再回源。
	h.expectCalls(t, heads, gets)
}

func TestOlderEpochIsServedNewerConfirmation(t *testing.T) {
	h := newHarness(t)
	h.origin.set(jarKey, []byte("v1"), resource.Metadata{Size: 2, ETag: "v1"})

	newer := h.mustFetch(t, resource.Epoch(2000))
	older := h.mustFetch(t, resource.Epoch(1000))
	expectSource(t, older, SourceCache)
	if older.Epoch != newer.Epoch {
		t.Fatalf("older caller should see the newer confirmation: %d vs %d", older.Epoch, newer.Epoch)
	}
	h.expectCalls(t, 0, 1)
}

func TestFetchersSharingAStagerSerializePerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := []byte("shared")
	h.origin.set(jarKey, body, metaFor(body, t1))

	started := make(chan struct{})
	release := make(chan struct{})
	var opened atomic.Int32
	h.origin.openBody = func(b []byte) io.Reader {
		if opened.Add(1) == 1 {
			return io.MultiReader(signalReader(started), gateReader(release), bytes.NewReader(b))
		}
		return bytes.NewReader(b)
	}

	mirror, err := New(Options{Name: "mirror", Accessor: h.origin, Index: h.index, Stager: h.stager.WithChecksums(false), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}

	firstDone := make(chan *Artifact, 1)
	go func() {
		artifact, err := h.fetcher.Fetch(ctx, resource.Epoch(1), jarKey)
		if err != nil {
			t.Errorf("first fetch: %v", err)
		}
		firstDone <- artifact
	}()
	<-started

	secondDone := make(chan *Artifact, 1)
	go func() {
		artifact, err := mirror.Fetch(ctx, resource.Epoch(1), jarKey)
		if err != nil {
			t.Errorf("second fetch: %v", err)
		}
		secondDone <- artifact
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-firstDone
	second := <-secondDone
	if first == nil || second == nil {
		t.Fatalf("both fetches should succeed")
	}
	expectSource(t, first, SourceDownload)
	expectSource(t, second, SourceCache)
	if first.Path != second.Path {
		t.Fatalf("both repositories should share the cached file: %s vs %s", first.Path, second.Path)
	}
	h.expectCalls(t, 0, 1)
}

func TestFetchRejectsZeroEpoch(t *testing.T) {
	h := newHarness(t)
	if _, err := h.fetcher.Fetch(context.Background(), 0, jarKey); err == nil {
		t.Fatalf("zero epoch should be rejected")
	}
	h.expectCalls(t, 0, 0)
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("missing dependencies should be rejected")
	}
}

// gateReader 在 gate 关闭前阻塞，随后报告 EOF。
func gateReader(gate <-chan struct{}) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		<-gate
		return 0, io.EOF
	})
}

// signalReader 首次读取时关闭 ch。
func signalReader(ch chan struct{}) io.Reader {
	var once sync.Once
	return readerFunc(func(p []byte) (int, error) {
		once.Do(func() { close(ch) })
		return 0, io.EOF
	})
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
