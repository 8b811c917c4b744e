package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpattn/apietl/internal/apiclient"
	"github.com/rpattn/apietl/internal/domain"

	"github.com/google/uuid"
)

type workerFixture struct {
	worker   *Worker
	scraps   *stubScrapRepo
	raw      *memoryRawStore
	failures *stubFailureLog
	route    domain.Route
	prov     *stubProvisioner
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.Backoff = apiclient.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}
	cfg.PageDelay = 0
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.DrainTimeout = 5 * time.Second
	return cfg
}

func newWorkerFixture(t *testing.T, fetcher Fetcher, urlTemplate string) *workerFixture {
	t.Helper()
	route := domain.Route{
		ID:          uuid.New(),
		TenantID:    42,
		Name:        "Pedidos",
		URLTemplate: urlTemplate,
		Method:      http.MethodGet,
		Headers:     map[string]string{"Authorization": "Bearer {token}"},
		RawTable:    "raw_42_pedidos",
		Active:      true,
	}
	f := &workerFixture{
		scraps:   newStubScrapRepo(),
		raw:      newMemoryRawStore(),
		failures: &stubFailureLog{},
		route:    route,
		prov:     &stubProvisioner{},
	}
	f.worker = NewWorker(testConfig(), WorkerDeps{
		Fetcher:     fetcher,
		Scraps:      f.scraps,
		Routes:      &stubRouteRepo{routes: map[uuid.UUID]domain.Route{route.ID: route}},
		Tokens:      &stubTokens{tokens: map[int64]string{42: "secret"}},
		Raw:         f.raw,
		Provisioner: f.prov,
		Failures:    f.failures,
	}, nil)
	return f
}

func (f *workerFixture) newScrap(t *testing.T) domain.Scrap {
	t.Helper()
	scrap, err := f.scraps.Create(context.Background(), domain.Scrap{
		TenantID:  42,
		RouteID:   f.route.ID,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to create scrap: %v", err)
	}
	return scrap
}

// pagedServer serves `pages` pages of two items each and an empty page afterwards.
func pagedServer(t *testing.T, pages int, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.URL.Query().Get("data_inicial") != "2024-01-01" || r.URL.Query().Get("data_final") != "2024-01-03" {
			t.Errorf("unexpected date range %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("per_page") != "1000" {
			t.Errorf("unexpected page size %s", r.URL.Query().Get("per_page"))
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		if page > pages {
			fmt.Fprintf(w, `{"data":[],"current_page":%d,"last_page":%d}`, page, pages+1)
			return
		}
		fmt.Fprintf(w, `{"data":[{"id":%d,"page":%d},{"page":%d,"id":%d}],"current_page":%d,"last_page":%d}`,
			page*10+1, page, page, page*10+2, page, pages+1)
	}))
}

func drain(events chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestWorkerPaginatesUntilEmptyPage(t *testing.T) {
	var requests int32
	server := pagedServer(t, 3, &requests)
	defer server.Close()

	f := newWorkerFixture(t, apiclient.New(apiclient.Config{}), server.URL+"/clients/{tenant_id}/orders")
	scrap := f.newScrap(t)
	events := make(chan Event, 64)

	result, err := f.worker.Run(context.Background(), scrap, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if requests != 4 {
		t.Fatalf("expected 4 requests (3 pages + empty), got %d", requests)
	}
	if result.Status != domain.ScrapStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Records != 6 || f.raw.count("raw_42_pedidos") != 6 {
		t.Fatalf("expected 6 records, got result=%d stored=%d", result.Records, f.raw.count("raw_42_pedidos"))
	}
	if result.Pages != 4 || result.PageFailures != 0 {
		t.Fatalf("unexpected page counters %+v", result)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusCompleted {
		t.Fatalf("expected persisted status completed, got %s", status)
	}

	received := drain(events)
	if len(received) != 5 {
		t.Fatalf("expected 4 progress events and 1 terminal event, got %d", len(received))
	}
	last := received[len(received)-1]
	if last.Kind != EventCompleted || last.Result == nil {
		t.Fatalf("expected terminal completed event, got %+v", last)
	}
	if received[0].PagesEstimated != 30 {
		t.Fatalf("expected 3 days x 10 pages estimate, got %d", received[0].PagesEstimated)
	}
}

func TestWorkerIsIdempotentAcrossRuns(t *testing.T) {
	var requests int32
	server := pagedServer(t, 2, &requests)
	defer server.Close()

	f := newWorkerFixture(t, apiclient.New(apiclient.Config{}), server.URL)

	first, err := f.worker.Run(context.Background(), f.newScrap(t), nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := f.worker.Run(context.Background(), f.newScrap(t), nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.Records != 4 {
		t.Fatalf("expected 4 records on first run, got %d", first.Records)
	}
	if second.Records != 0 || second.Queued != 4 {
		t.Fatalf("expected duplicates to be absorbed on second run, got %+v", second)
	}
	if got := f.raw.count("raw_42_pedidos"); got != 4 {
		t.Fatalf("expected 4 distinct rows, got %d", got)
	}
}

type cancelingFetcher struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  int
}

func (f *cancelingFetcher) Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	// Stop is requested while page 1 is in flight.
	f.cancel()
	if ctx.Err() != nil {
		return nil, errors.New("in-flight request observed cancellation")
	}
	return &apiclient.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"data":[{"id":1},{"id":2}],"current_page":1,"last_page":10}`),
	}, nil
}

func TestWorkerStopsAfterCurrentPageWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &cancelingFetcher{cancel: cancel}

	f := newWorkerFixture(t, fetcher, "https://api.example.com/orders")
	scrap := f.newScrap(t)
	events := make(chan Event, 16)

	result, err := f.worker.Run(ctx, scrap, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected page 2 never to be requested, got %d calls", fetcher.calls)
	}
	if result.Status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled, got %s", result.Status)
	}
	if result.Records != 2 || f.raw.count("raw_42_pedidos") != 2 {
		t.Fatalf("expected page 1 records to be drained, got %d", result.Records)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusCanceled {
		t.Fatalf("expected persisted status canceled, got %s", status)
	}
	received := drain(events)
	if last := received[len(received)-1]; last.Kind != EventCanceled {
		t.Fatalf("expected canceled terminal event, got %s", last.Kind)
	}
}

type failingFetcher struct {
	calls int32
}

func (f *failingFetcher) Do(context.Context, apiclient.Request) (*apiclient.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, &domain.TransportError{StatusCode: http.StatusBadGateway}
}

func TestWorkerAbandonsPageAfterRetryExhaustion(t *testing.T) {
	fetcher := &failingFetcher{}
	f := newWorkerFixture(t, fetcher, "https://api.example.com/orders")
	scrap := f.newScrap(t)

	result, err := f.worker.Run(context.Background(), scrap, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fetcher.calls)
	}
	if result.Status != domain.ScrapStatusCompleted || result.PageFailures != 1 || result.Pages != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.failures.entries) != 1 || f.failures.entries[0].Context != "page 1" {
		t.Fatalf("expected one ingestion log entry for page 1, got %+v", f.failures.entries)
	}
}

func TestWorkerFailsWithoutCredential(t *testing.T) {
	f := newWorkerFixture(t, &failingFetcher{}, "https://api.example.com/orders")
	f.worker.tokens = &stubTokens{tokens: map[int64]string{}}
	scrap := f.newScrap(t)
	events := make(chan Event, 4)

	_, err := f.worker.Run(context.Background(), scrap, events)
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}
	received := drain(events)
	if len(received) != 1 || received[0].Kind != EventFailed {
		t.Fatalf("expected a single failed event, got %+v", received)
	}
}

func TestWorkerFailsWhenProvisioningFails(t *testing.T) {
	fetcher := &failingFetcher{}
	f := newWorkerFixture(t, fetcher, "https://api.example.com/orders")
	f.prov.err = &domain.ProvisioningError{Table: "raw_42_pedidos", Reason: "DDL failed"}
	scrap := f.newScrap(t)

	_, err := f.worker.Run(context.Background(), scrap, nil)
	var provErr *domain.ProvisioningError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no requests after provisioning failure")
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}
}

func TestWorkerRejectsJobThatIsNotPending(t *testing.T) {
	f := newWorkerFixture(t, &failingFetcher{}, "https://api.example.com/orders")
	scrap := f.newScrap(t)
	if err := f.scraps.MarkRunning(context.Background(), scrap.ID); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := f.worker.Run(context.Background(), scrap, nil); !errors.Is(err, ErrJobNotRunnable) {
		t.Fatalf("expected ErrJobNotRunnable, got %v", err)
	}
}

func TestWorkerCanceledBeforeStartEndsCanceled(t *testing.T) {
	fetcher := &failingFetcher{}
	f := newWorkerFixture(t, fetcher, "https://api.example.com/orders")
	scrap := f.newScrap(t)
	events := make(chan Event, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.worker.Run(ctx, scrap, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled result, got %s", result.Status)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no requests, got %d", fetcher.calls)
	}
	received := drain(events)
	if len(received) != 1 || received[0].Kind != EventCanceled {
		t.Fatalf("expected a single canceled event, got %+v", received)
	}
}

func TestWorkerCanceledDuringProvisioningEndsCanceled(t *testing.T) {
	fetcher := &failingFetcher{}
	f := newWorkerFixture(t, fetcher, "https://api.example.com/orders")
	f.prov.entered = make(chan struct{}, 1)
	f.prov.block = make(chan struct{})
	scrap := f.newScrap(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.worker.Run(ctx, scrap, nil)
		done <- outcome{result, err}
	}()

	select {
	case <-f.prov.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("provisioning did not start")
	}
	cancel()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	if got.result.Status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled result, got %s", got.result.Status)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestWorkerFailsWhenJobTimesOutDuringProvisioning(t *testing.T) {
	f := newWorkerFixture(t, &failingFetcher{}, "https://api.example.com/orders")
	f.prov.block = make(chan struct{})
	scrap := f.newScrap(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := f.worker.Run(ctx, scrap, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if result.Status != domain.ScrapStatusFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}
}
