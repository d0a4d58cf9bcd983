package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/fetch/wechat"
	"github.com/nao1215/harvester/internal/log"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/relevance"
	"github.com/nao1215/harvester/internal/retry"
	"github.com/nao1215/harvester/internal/store"
)

// fakeSession answers from a table. Items listed in errs always fail.
type fakeSession struct {
	mu      sync.Mutex
	answers map[string][]string
	errs    map[string]error
	hook    func(item model.WorkItem)
	fetched map[string]int
	created int
	closed  int
}

func newFakeSession(answers map[string][]string) *fakeSession {
	return &fakeSession{answers: answers, errs: map[string]error{}, fetched: map[string]int{}}
}

func (s *fakeSession) Fetch(ctx context.Context, item model.WorkItem) ([]string, error) {
	s.mu.Lock()
	s.fetched[item.ID]++
	hook := s.hook
	err := s.errs[item.ID]
	answer := s.answers[item.ID]
	s.mu.Unlock()

	if hook != nil {
		hook(item)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *fakeSession) SupportsIncrementalEdit() bool { return false }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) fetches(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[id]
}

func (s *fakeSession) totalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetched {
		n += c
	}
	return n
}

func (s *fakeSession) factory() fetch.SessionFactory {
	return func(context.Context) (fetch.Session, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.created++
		return s, nil
	}
}

// batchFake records batch requests.
type batchFake struct {
	*fakeSession
	batches [][]string
}

func (s *batchFake) FetchBatch(ctx context.Context, items []model.WorkItem) ([][]string, error) {
	s.mu.Lock()
	s.batches = append(s.batches, model.IDs(items))
	s.mu.Unlock()

	out := make([][]string, len(items))
	for i, item := range items {
		out[i] = s.answers[item.ID]
	}
	return out, nil
}

// faultyProgress fails to record one item, the way a full disk would
// between committing results and marking the item complete.
type faultyProgress struct {
	*store.Progress
	failOn   string
	flushErr error
}

func (p *faultyProgress) Add(ctx context.Context, id string, meta map[string]string) error {
	if id == p.failOn {
		return fmt.Errorf("%w: disk full", store.ErrPersistence)
	}
	return p.Progress.Add(ctx, id, meta)
}

func (p *faultyProgress) Flush(ctx context.Context) error {
	if err := p.Progress.Flush(ctx); err != nil {
		return err
	}
	return p.flushErr
}

type stores struct {
	dir      string
	progress *store.Progress
	sink     *store.LineSink
}

func openStores(t *testing.T, dir string) stores {
	t.Helper()

	progress, err := store.OpenProgress(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatalf("OpenProgress failed: %v", err)
	}
	sink, err := store.OpenLineSink(filepath.Join(dir, "results.txt"))
	if err != nil {
		t.Fatalf("OpenLineSink failed: %v", err)
	}
	return stores{dir: dir, progress: progress, sink: sink}
}

func (s stores) lines(t *testing.T) []string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(s.dir, "results.txt"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Fields(strings.ReplaceAll(string(data), " ", "_"))
}

func quiet(opts ...Option) []Option {
	base := []Option{
		WithLogger(log.Discard()),
		WithRetryOptions(
			retry.WithLogger(log.Discard()),
			retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		),
	}
	return append(base, opts...)
}

func items(ids ...string) []model.WorkItem {
	out := make([]model.WorkItem, len(ids))
	for i, id := range ids {
		out[i] = model.NewWorkItem(id)
	}
	return out
}

func TestController_Scenario(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	sess := newFakeSession(map[string][]string{"cat a": {"cat apple"}, "cat b": {}})

	c := New(sess.factory(), st.progress, st.sink,
		quiet(WithJob("suggest", "cat"), WithFilter(relevance.NewSeedFilter("cat")))...)
	sum, err := c.Run(context.Background(), items("cat a", "cat b"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"cat_apple"}, st.lines(t)); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cat a", "cat b"}, st.progress.IDs()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if sum.Status != model.StatusCompleted || c.Status() != model.StatusCompleted {
		t.Errorf("expected completed, got %v", sum.Status)
	}
	if sum.Processed != 2 || sum.NewResults != 1 || sum.Total != 2 || !sum.StateFlushed {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.RunID == "" || sum.Job != "suggest" || sum.Key != "cat" {
		t.Errorf("summary lacks run identity: %+v", sum)
	}
	if sess.closed != 1 {
		t.Errorf("expected the session released once, got %d", sess.closed)
	}
}

func TestController_Idempotence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess := newFakeSession(map[string][]string{
		"cat a": {"cat apple", "cat arena"},
		"cat b": {"cat bowl"},
		"cat c": {"cat apple"},
	})
	work := items("cat a", "cat b", "cat c")

	first := openStores(t, dir)
	if _, err := New(sess.factory(), first.progress, first.sink, quiet()...).Run(context.Background(), work); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	linesAfterFirst := first.lines(t)
	fetchesAfterFirst := sess.totalFetches()

	second := openStores(t, dir)
	sum, err := New(sess.factory(), second.progress, second.sink, quiet()...).Run(context.Background(), work)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if sess.totalFetches() != fetchesAfterFirst {
		t.Errorf("second run fetched again: %d fetches after %d", sess.totalFetches(), fetchesAfterFirst)
	}
	if diff := cmp.Diff(linesAfterFirst, second.lines(t)); diff != "" {
		t.Errorf("sink changed (-first +second):\n%s", diff)
	}
	if second.progress.Len() != 3 {
		t.Errorf("progress grew to %d", second.progress.Len())
	}
	if sum.AlreadyDone != 3 || sum.Processed != 0 {
		t.Errorf("unexpected second summary %+v", sum)
	}
}

func TestController_DedupAcrossItems(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	sess := newFakeSession(map[string][]string{
		"cat a": {"cat apple", "Cat  Apple"},
		"cat b": {"cat apple", "cat bowl"},
	})

	sum, err := New(sess.factory(), st.progress, st.sink, quiet()...).Run(context.Background(), items("cat a", "cat b"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"cat_apple", "cat_bowl"}, st.lines(t)); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
	if sum.NewResults != 2 || sum.Duplicates != 2 {
		t.Errorf("expected 2 new and 2 duplicates, got %+v", sum)
	}
}

func TestController_RelevanceFilter(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	sess := newFakeSession(map[string][]string{"run a": {"running shoes", "walking"}})

	sum, err := New(sess.factory(), st.progress, st.sink,
		quiet(WithFilter(relevance.NewSeedFilter("run")))...).Run(context.Background(), items("run a"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]string{"running_shoes"}, st.lines(t)); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
	if sum.Irrelevant != 1 {
		t.Errorf("expected one irrelevant result, got %d", sum.Irrelevant)
	}
}

func TestController_RetryExhaustion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess := newFakeSession(nil)
	sess.errs["cat a"] = fetch.Timeout(errors.New("slow"))

	st := openStores(t, dir)
	sum, err := New(sess.factory(), st.progress, st.sink, quiet()...).Run(context.Background(), items("cat a"))
	if err != nil {
		t.Fatalf("exhausted retries must not fail the run: %v", err)
	}
	if sess.fetches("cat a") != retry.DefaultMaxRetries {
		t.Errorf("expected %d attempts, got %d", retry.DefaultMaxRetries, sess.fetches("cat a"))
	}
	if !st.progress.Contains("cat a") || sum.Failed != 1 || sum.Processed != 1 {
		t.Errorf("expected the item completed as failed, got %+v", sum)
	}

	again := openStores(t, dir)
	if _, err := New(sess.factory(), again.progress, again.sink, quiet()...).Run(context.Background(), items("cat a")); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if sess.fetches("cat a") != retry.DefaultMaxRetries {
		t.Errorf("failed item was fetched again in a later run")
	}
}

func TestController_CrashSafety(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess := newFakeSession(map[string][]string{"cat a": {"cat apple"}, "cat b": {"cat bowl"}})
	work := items("cat a", "cat b")

	first := openStores(t, dir)
	progress := &faultyProgress{Progress: first.progress, failOn: "cat b"}
	sum, err := New(sess.factory(), progress, first.sink, quiet()...).Run(context.Background(), work)
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected a persistence failure, got %v", err)
	}
	if sum.Status != model.StatusFatallyFailed || sum.Error == "" {
		t.Errorf("expected fatally failed summary, got %+v", sum)
	}

	restart := openStores(t, dir)
	if restart.progress.Contains("cat b") {
		t.Fatal("item was marked complete although recording it failed")
	}
	sum, err = New(sess.factory(), restart.progress, restart.sink, quiet()...).Run(context.Background(), work)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	if sess.fetches("cat a") != 1 || sess.fetches("cat b") != 2 {
		t.Errorf("expected exactly one redundant fetch, got a=%d b=%d", sess.fetches("cat a"), sess.fetches("cat b"))
	}
	if diff := cmp.Diff([]string{"cat_apple", "cat_bowl"}, restart.lines(t)); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
	if sum.Duplicates != 1 || sum.NewResults != 0 {
		t.Errorf("expected the refetched result dropped as duplicate, got %+v", sum)
	}
}

func TestController_BackupWriteContinues(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	progress := &faultyProgress{Progress: st.progress, flushErr: fmt.Errorf("%w: read-only", store.ErrBackupWritten)}
	sess := newFakeSession(map[string][]string{"a": {"x"}, "b": {"y"}})

	sum, err := New(sess.factory(), progress, st.sink, quiet()...).Run(context.Background(), items("a", "b"))
	if err != nil {
		t.Fatalf("a backup write must not fail the run: %v", err)
	}
	if sum.Status != model.StatusCompleted || sum.Processed != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestController_Interrupt(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := newFakeSession(map[string][]string{"a": {"x"}, "b": {"y"}, "c": {"z"}})
	sess.hook = func(item model.WorkItem) {
		if item.ID == "b" {
			cancel()
		}
	}

	c := New(sess.factory(), st.progress, st.sink, quiet()...)
	sum, err := c.Run(ctx, items("a", "b", "c"))
	if err != nil {
		t.Fatalf("interruption is not an error, got %v", err)
	}
	if sum.Status != model.StatusInterrupted || c.Status() != model.StatusInterrupted {
		t.Errorf("expected interrupted, got %v", sum.Status)
	}
	if !sum.StateFlushed {
		t.Error("expected state flushed on interrupt")
	}

	// The fetch of b was in flight when the run was interrupted; it finishes
	// and is committed, c is never started.
	reopened := openStores(t, st.dir)
	if diff := cmp.Diff([]string{"a", "b"}, reopened.progress.IDs()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y"}, reopened.lines(t)); diff != "" {
		t.Errorf("sink mismatch (-want +got):\n%s", diff)
	}
	if sess.fetches("c") != 0 {
		t.Error("fetched an item after interruption")
	}
}

func TestController_InterruptPool(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	answers := map[string][]string{}
	var ids []string
	for i := range 20 {
		id := fmt.Sprintf("item%02d", i)
		ids = append(ids, id)
		answers[id] = []string{id + "-result"}
	}
	sess := newFakeSession(answers)
	sess.hook = func(item model.WorkItem) {
		if item.ID == "item03" {
			cancel()
			time.Sleep(10 * time.Millisecond)
		}
	}

	sum, err := New(sess.factory(), st.progress, st.sink, quiet(WithWorkers(3))...).Run(ctx, items(ids...))
	if err != nil {
		t.Fatalf("interruption is not an error, got %v", err)
	}
	if sum.Status != model.StatusInterrupted {
		t.Errorf("expected interrupted, got %v", sum.Status)
	}

	reopened := openStores(t, st.dir)
	if !reopened.progress.Contains("item03") {
		t.Error("the fetch that was in flight at the interrupt was not committed")
	}
	for _, id := range ids {
		if sess.fetches(id) > 0 && !reopened.progress.Contains(id) {
			t.Errorf("%s was fetched but not committed", id)
		}
	}
	if reopened.progress.Len() == len(ids) {
		t.Error("expected the interrupt to stop the run early")
	}
}

func TestController_FamilySkip(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	sess := newFakeSession(map[string][]string{"b1": {"b one"}})

	var work []model.WorkItem
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		work = append(work, model.WorkItem{ID: id, Family: "a"})
	}
	work = append(work, model.WorkItem{ID: "b1", Family: "b"})

	sum, err := New(sess.factory(), st.progress, st.sink, quiet()...).Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Processed != 4 || sum.Skipped != 2 {
		t.Errorf("expected 4 processed and 2 skipped, got %+v", sum)
	}
	if sess.fetches("a4") != 0 || sess.fetches("a5") != 0 {
		t.Error("skipped items were fetched")
	}
	if st.progress.Contains("a4") {
		t.Error("skipped items must not be marked complete")
	}
}

func TestController_MaxConsecutiveFailures(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	sess := newFakeSession(nil)
	for _, id := range []string{"a", "b", "c"} {
		sess.errs[id] = fetch.Unknown(errors.New("boom"))
	}

	sum, err := New(sess.factory(), st.progress, st.sink,
		quiet(WithMaxConsecutiveFailures(2))...).Run(context.Background(), items("a", "b", "c"))
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	if sum.Status != model.StatusFatallyFailed || sum.Failed != 2 || sess.fetches("c") != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestController_LoginExpiredMidRun(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("<html><body>请重新登录</body></html>"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	progress, err := store.OpenProgress(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatal(err)
	}
	docs, err := store.OpenDocumentSink(filepath.Join(dir, "articles"))
	if err != nil {
		t.Fatal(err)
	}

	factory := wechat.NewFactory(wechat.Options{BaseURL: srv.URL, Token: "123456", Cookie: "slave_sid=expired"})
	articles := []model.WorkItem{
		model.NewWorkItem(srv.URL+"/s/one").WithMeta(model.MetaTitle, "One"),
		model.NewWorkItem(srv.URL+"/s/two").WithMeta(model.MetaTitle, "Two"),
	}

	sum, err := New(factory, progress, docs, quiet(WithRecorder(wechat.Record))...).Run(context.Background(), articles)
	if !errors.Is(err, retry.ErrSessionUnrecoverable) {
		t.Fatalf("expected ErrSessionUnrecoverable, got %v", err)
	}
	if sum.Status != model.StatusFatallyFailed || !sum.StateFlushed {
		t.Errorf("expected a flushed fatal failure, got %+v", sum)
	}
	if progress.Len() != 0 || docs.Len() != 0 {
		t.Errorf("nothing may be marked done without a document: progress %d, documents %d", progress.Len(), docs.Len())
	}
	// One fetch with the first session and one with its replacement.
	if n := requests.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestController_SessionUnrecoverable(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	factory := func(context.Context) (fetch.Session, error) {
		return nil, errors.New("browser missing")
	}

	sum, err := New(factory, st.progress, st.sink, quiet()...).Run(context.Background(), items("a"))
	if !errors.Is(err, retry.ErrSessionUnrecoverable) {
		t.Fatalf("expected ErrSessionUnrecoverable, got %v", err)
	}
	if sum.Status != model.StatusFatallyFailed || st.progress.Len() != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestController_RunOnce(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	c := New(newFakeSession(nil).factory(), st.progress, st.sink, quiet()...)
	if _, err := c.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := c.Run(context.Background(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestController_Pool(t *testing.T) {
	t.Parallel()

	st := openStores(t, t.TempDir())
	answers := map[string][]string{}
	var ids []string
	for i := range 40 {
		id := fmt.Sprintf("item%02d", i)
		ids = append(ids, id)
		answers[id] = []string{id + "-result"}
	}
	sess := newFakeSession(answers)

	sum, err := New(sess.factory(), st.progress, st.sink, quiet(WithWorkers(4))...).Run(context.Background(), items(ids...))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Processed != 40 || sum.NewResults != 40 || st.sink.Len() != 40 || st.progress.Len() != 40 {
		t.Errorf("unexpected summary %+v", sum)
	}
	for _, id := range ids {
		if n := sess.fetches(id); n != 1 {
			t.Errorf("%s fetched %d times", id, n)
		}
	}
	if sess.created == 0 || sess.closed != sess.created {
		t.Errorf("expected every session released, created %d closed %d", sess.created, sess.closed)
	}
}

func TestController_Batch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	progress, err := store.OpenProgress(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatal(err)
	}
	sink, err := store.OpenPairSink(filepath.Join(dir, "pairs.csv"))
	if err != nil {
		t.Fatal(err)
	}

	words := []string{"one", "two", "three", "four", "five", "six", "seven"}
	answers := map[string][]string{}
	for _, w := range words {
		answers[w] = []string{strings.ToUpper(w)}
	}
	sess := &batchFake{fakeSession: newFakeSession(answers)}
	factory := func(context.Context) (fetch.Session, error) { return sess, nil }

	record := func(item model.WorkItem, value string) model.ResultRecord {
		return model.ResultRecord{Value: value, Item: item.ID, Extra: map[string]string{store.ExtraSource: item.ID}}
	}
	sum, err := New(factory, progress, sink,
		quiet(WithBatchSize(3), WithRecorder(record), WithCompleted(sink))...).Run(context.Background(), items(words...))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][]string{{"one", "two", "three"}, {"four", "five", "six"}, {"seven"}}
	if diff := cmp.Diff(want, sess.batches); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	if got, _ := sink.Translation("four"); got != "FOUR" {
		t.Errorf("Translation(four) = %q", got)
	}
	if sum.Processed != 7 || sess.totalFetches() != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestController_ClearsState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		keep      bool
		wantState bool
	}{
		{name: "cleared on completion", keep: false, wantState: false},
		{name: "kept when asked", keep: true, wantState: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			st := openStores(t, dir)
			state := store.NewStateFile(filepath.Join(dir, "state.json"))
			if err := state.SaveState(context.Background(), model.NewRunState()); err != nil {
				t.Fatal(err)
			}

			sess := newFakeSession(map[string][]string{"a": {"x"}})
			if _, err := New(sess.factory(), st.progress, st.sink,
				quiet(WithState(state, tt.keep))...).Run(context.Background(), items("a")); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			got, err := state.LoadState(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if (got != nil) != tt.wantState {
				t.Errorf("state present = %v, want %v", got != nil, tt.wantState)
			}
		})
	}
}
