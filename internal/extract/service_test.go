package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/google/uuid"
)

// blockingRunner marks the job running and waits for cancellation.
type blockingRunner struct {
	scraps  *stubScrapRepo
	started chan uuid.UUID
}

func (r *blockingRunner) Run(ctx context.Context, scrap domain.Scrap, events chan<- Event) (Result, error) {
	if err := r.scraps.MarkRunning(ctx, scrap.ID); err != nil {
		return Result{}, ErrJobNotRunnable
	}
	send(events, Event{Kind: EventProgress, ScrapID: scrap.ID, Page: 1})
	r.started <- scrap.ID
	<-ctx.Done()
	if err := r.scraps.MarkCanceled(context.WithoutCancel(ctx), scrap.ID, domain.ScrapResult{}); err != nil {
		return Result{}, err
	}
	result := Result{Status: domain.ScrapStatusCanceled}
	send(events, Event{Kind: EventCanceled, ScrapID: scrap.ID, Result: &result})
	return result, nil
}

func newServiceFixture() (*Service, *stubScrapRepo, *blockingRunner, domain.Route) {
	scraps := newStubScrapRepo()
	route := domain.Route{ID: uuid.New(), TenantID: 5, Name: "orders", Active: true}
	runner := &blockingRunner{scraps: scraps, started: make(chan uuid.UUID, 1)}
	service := NewService(scraps, &stubRouteRepo{routes: map[uuid.UUID]domain.Route{route.ID: route}}, &stubFailureLog{}, runner)
	return service, scraps, runner, route
}

func TestSubmitRejectsInvalidDateRange(t *testing.T) {
	service, scraps, _, route := newServiceFixture()

	_, err := service.Submit(context.Background(), SubmitRequest{
		TenantID:  5,
		RouteID:   route.ID,
		StartDate: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
	if len(scraps.scraps) != 0 {
		t.Fatalf("expected no job to be persisted")
	}
}

func TestSubmitRejectsRouteOfAnotherTenant(t *testing.T) {
	service, _, _, route := newServiceFixture()

	_, err := service.Submit(context.Background(), SubmitRequest{
		TenantID:  6,
		RouteID:   route.ID,
		StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected foreign route to be rejected")
	}
}

func TestCancelRunningJobStopsWorker(t *testing.T) {
	service, scraps, runner, route := newServiceFixture()

	scrap, err := service.Submit(context.Background(), SubmitRequest{
		TenantID:  5,
		RouteID:   route.ID,
		StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not start")
	}

	events, unsubscribe := service.Subscribe(scrap.ID)
	defer unsubscribe()

	if _, err := service.CancelJob(context.Background(), scrap.ID); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("workers did not stop: %v", err)
	}
	if status := scraps.status(scrap.ID); status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled, got %s", status)
	}

	var sawTerminal bool
	for ev := range events {
		if ev.Kind == EventCanceled {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Fatalf("expected subscriber to receive the canceled event")
	}
}

func TestCancelPendingJobWithoutWorker(t *testing.T) {
	service, scraps, _, route := newServiceFixture()

	scrap, err := service.Create(context.Background(), SubmitRequest{
		TenantID:  5,
		RouteID:   route.ID,
		StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	updated, err := service.CancelJob(context.Background(), scrap.ID)
	if err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if updated.Status != domain.ScrapStatusCanceled || scraps.status(scrap.ID) != domain.ScrapStatusCanceled {
		t.Fatalf("expected pending job to be canceled, got %s", updated.Status)
	}

	if _, err := service.CancelJob(context.Background(), scrap.ID); err == nil {
		t.Fatalf("expected canceling a terminal job to fail")
	}
}

func TestGetJobUnknown(t *testing.T) {
	service, _, _, _ := newServiceFixture()
	if _, err := service.GetJob(context.Background(), uuid.New()); !errors.Is(err, repository.ErrScrapNotFound) {
		t.Fatalf("expected ErrScrapNotFound, got %v", err)
	}
}

func TestCancelJobWhileWorkerProvisions(t *testing.T) {
	f := newWorkerFixture(t, &failingFetcher{}, "https://api.example.com/orders")
	f.prov.entered = make(chan struct{}, 1)
	f.prov.block = make(chan struct{})
	service := NewService(f.scraps, &stubRouteRepo{routes: map[uuid.UUID]domain.Route{f.route.ID: f.route}}, f.failures, f.worker)

	scrap, err := service.Submit(context.Background(), SubmitRequest{
		TenantID:  42,
		RouteID:   f.route.ID,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	select {
	case <-f.prov.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not reach provisioning")
	}

	if _, err := service.CancelJob(context.Background(), scrap.ID); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("workers did not stop: %v", err)
	}
	if status := f.scraps.status(scrap.ID); status != domain.ScrapStatusCanceled {
		t.Fatalf("expected canceled, got %s", status)
	}
}
