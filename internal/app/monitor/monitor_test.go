package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// scriptedPoller returns its observations in order and keeps returning the
// last one. A nil entry models an absent resource.
type scriptedPoller struct {
	script []*migration.Observation
	err    error
	calls  int
}

func (p *scriptedPoller) PollMigration(ctx context.Context, h migration.Handle) (*migration.Observation, error) {
	if p.err != nil {
		return nil, p.err
	}
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	return p.script[i], nil
}

func obs(ps migration.ProvisioningState, st migration.Status) *migration.Observation {
	return &migration.Observation{
		ProvisioningState: ps,
		Status:            st,
		ObservedAt:        time.Now(),
	}
}

var testHandle = migration.Handle{
	Target: migration.Target{ResourceGroup: "rg", Instance: "mi", Database: "db"},
}

func fastOpts() Options {
	return Options{Interval: time.Millisecond}
}

func TestWaitOfflineStopsAtTerminalProvisioningState(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateInProgress, migration.StatusInProgress),
		obs(migration.ProvisioningStateAccepted, migration.StatusInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusSucceeded),
	}}

	final, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOffline, fastOpts())
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if final.ProvisioningState != migration.ProvisioningStateSucceeded {
		t.Errorf("final state = %q, want %q", final.ProvisioningState, migration.ProvisioningStateSucceeded)
	}
	if poller.calls != 3 {
		t.Errorf("polled %d times, want 3 (stop at first terminal observation)", poller.calls)
	}
}

func TestWaitOnlineIgnoresProvisioningState(t *testing.T) {
	// Online termination reads the migration status, not the provisioning
	// state: a succeeded deployment with ongoing log shipping keeps polling.
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateSucceeded, migration.StatusLogShippingInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusLogShippingInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusSucceeded),
	}}

	final, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOnline, fastOpts())
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if final.Status != migration.StatusSucceeded {
		t.Errorf("final status = %q, want %q", final.Status, migration.StatusSucceeded)
	}
	if poller.calls != 3 {
		t.Errorf("polled %d times, want 3", poller.calls)
	}
}

func TestWaitToleratesAbsentObservations(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		nil,
		nil,
		obs(migration.ProvisioningStateFailed, migration.StatusFailed),
	}}

	absences := 0
	opts := fastOpts()
	opts.OnAbsent = func() { absences++ }

	final, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOffline, opts)
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if final.ProvisioningState != migration.ProvisioningStateFailed {
		t.Errorf("final state = %q, want %q", final.ProvisioningState, migration.ProvisioningStateFailed)
	}
	if absences != 2 {
		t.Errorf("OnAbsent called %d times, want 2", absences)
	}
}

func TestWaitStopAtStatusPausesWhileOngoing(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateInProgress, migration.StatusInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusLogShippingInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusSucceeded),
	}}

	opts := fastOpts()
	opts.StopAtStatus = migration.StatusLogShippingInProgress

	final, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOnline, opts)
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if final.Status != migration.StatusLogShippingInProgress {
		t.Errorf("final status = %q, want %q", final.Status, migration.StatusLogShippingInProgress)
	}
	if poller.calls != 2 {
		t.Errorf("polled %d times, want 2 (pause at StopAtStatus)", poller.calls)
	}
}

func TestWaitPollErrorStopsLoop(t *testing.T) {
	poller := &scriptedPoller{err: errors.New("403 forbidden")}

	_, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOnline, fastOpts())
	if err == nil {
		t.Fatal("Wait() expected error")
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateInProgress, migration.StatusInProgress),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{Interval: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := NewMonitor(poller).Wait(ctx, testHandle, migration.ModeOnline, opts)
		done <- err
	}()

	// Let the immediate first poll happen, then cancel during the wait.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after cancellation")
	}
}

func TestWaitMaxDuration(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateInProgress, migration.StatusInProgress),
	}}

	opts := Options{Interval: 10 * time.Millisecond, MaxDuration: 30 * time.Millisecond}

	_, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOnline, opts)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitReportsObservations(t *testing.T) {
	poller := &scriptedPoller{script: []*migration.Observation{
		obs(migration.ProvisioningStateInProgress, migration.StatusInProgress),
		obs(migration.ProvisioningStateSucceeded, migration.StatusSucceeded),
	}}

	var seen []migration.Status
	opts := fastOpts()
	opts.OnObservation = func(o migration.Observation) {
		seen = append(seen, o.Status)
	}

	if _, err := NewMonitor(poller).Wait(context.Background(), testHandle, migration.ModeOnline, opts); err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("OnObservation called %d times, want 2", len(seen))
	}
	if seen[1] != migration.StatusSucceeded {
		t.Errorf("last reported status = %q, want %q", seen[1], migration.StatusSucceeded)
	}
}
