package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

type mockProcessor struct {
	mu        sync.Mutex
	processed []*model.PositionReport

	blockFor string        // reports for this vehicle wait on release
	release  chan struct{}
}

func (m *mockProcessor) ProcessReport(_ context.Context, report *model.PositionReport) error {
	if report.VehicleID == m.blockFor {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, report)
	return nil
}

func (m *mockProcessor) byVehicle(vehicleID string) []*model.PositionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PositionReport
	for _, r := range m.processed {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out
}

func dispatchReport(vehicleID string, seq int) *model.PositionReport {
	return &model.PositionReport{
		VehicleID:  vehicleID,
		Lat:        10.0,
		Lon:        106.0,
		RecordedAt: time.Unix(int64(seq), 0),
	}
}

func TestDispatcherKeepsPerVehicleOrder(t *testing.T) {
	proc := &mockProcessor{}
	d := NewDispatcher(proc, 4, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	for i := 0; i < 50; i++ {
		if err := d.Submit(ctx, dispatchReport("VH-001", i)); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	cancel()
	d.Wait()

	got := proc.byVehicle("VH-001")
	if len(got) != 50 {
		t.Fatalf("processed %d reports, want 50", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].RecordedAt.Before(got[i-1].RecordedAt) {
			t.Fatalf("report %d processed out of order", i)
		}
	}
}

func TestDispatcherIsolatesVehicles(t *testing.T) {
	// VH-A and VH-B hash to different shards with four workers, so a stuck
	// sequence for one must not delay the other.
	proc := &mockProcessor{blockFor: "VH-A", release: make(chan struct{})}
	d := NewDispatcher(proc, 4, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	if err := d.Submit(ctx, dispatchReport("VH-A", 0)); err != nil {
		t.Fatalf("Submit(VH-A) error = %v", err)
	}
	if err := d.Submit(ctx, dispatchReport("VH-B", 0)); err != nil {
		t.Fatalf("Submit(VH-B) error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(proc.byVehicle("VH-B")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("VH-B stalled behind VH-A's stuck processing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(proc.byVehicle("VH-A")) != 0 {
		t.Error("VH-A should still be stuck")
	}

	close(proc.release)
	cancel()
	d.Wait()
	if len(proc.byVehicle("VH-A")) != 1 {
		t.Error("VH-A report lost")
	}
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	proc := &mockProcessor{}
	d := NewDispatcher(proc, 2, 64)
	ctx, cancel := context.WithCancel(context.Background())

	// Queue before any worker runs, then start and stop immediately: the
	// drain pass must still process everything.
	for i := 0; i < 5; i++ {
		if err := d.Submit(ctx, dispatchReport("VH-001", i)); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	go d.Run(ctx)
	cancel()
	d.Wait()

	if len(proc.byVehicle("VH-001")) != 5 {
		t.Errorf("processed %d reports, want all 5 drained", len(proc.byVehicle("VH-001")))
	}
}

func TestDispatcherSubmitHonorsCancel(t *testing.T) {
	proc := &mockProcessor{}
	d := NewDispatcher(proc, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No worker is consuming; fill the single slot, then the next submit
	// must bail out on the cancelled context instead of blocking.
	if err := d.Submit(context.Background(), dispatchReport("VH-001", 0)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(ctx, dispatchReport("VH-001", 1)); err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}
