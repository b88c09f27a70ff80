package orchestrate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appbackup "github.com/sqlferry/sqlferry/internal/app/backup"
	"github.com/sqlferry/sqlferry/internal/app/monitor"
	backupdom "github.com/sqlferry/sqlferry/internal/domain/backup"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"
)

var fixedTime = time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)

type fakeTokens struct {
	calls int
	err   error
}

func (f *fakeTokens) GetOrCreateAccessToken(ctx context.Context, expiry time.Duration) (migration.StorageToken, error) {
	f.calls++
	return migration.StorageToken{Value: "sv=2024&sig=abc", Expiry: fixedTime.Add(expiry)}, f.err
}

type fakeBackups struct {
	credCalls int
	fullCalls int
	logCalls  int

	credErr error
	fullErr error
	logErr  error
}

func (f *fakeBackups) EnsureStorageCredential(ctx context.Context, containerURL, token string) error {
	f.credCalls++
	return f.credErr
}

func (f *fakeBackups) TakeFullBackup(ctx context.Context, database, containerURL string) (backupdom.Artifact, error) {
	f.fullCalls++
	if f.fullErr != nil {
		return backupdom.Artifact{}, f.fullErr
	}
	return backupdom.NewArtifact(database, backupdom.KindFull, fixedTime), nil
}

func (f *fakeBackups) TakeLogBackup(ctx context.Context, database, containerURL string) (backupdom.Artifact, error) {
	f.logCalls++
	if f.logErr != nil {
		return backupdom.Artifact{}, f.logErr
	}
	return backupdom.NewArtifact(database, backupdom.KindLog, fixedTime), nil
}

type fakeJobs struct {
	calls int
	err   error
}

func (f *fakeJobs) EnsureAgentJob(ctx context.Context, database, containerURL string, interval time.Duration) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "sqlferry-logship-" + database, nil
}

type fakeLauncher struct {
	calls int
	err   error

	gotDescriptor migration.Descriptor
}

func (f *fakeLauncher) Start(ctx context.Context, d migration.Descriptor, password *secrets.Value) (migration.Handle, error) {
	f.calls++
	f.gotDescriptor = d
	if f.err != nil {
		return migration.Handle{}, f.err
	}
	return migration.Handle{Target: d.Target, MigrationName: d.Target.Database, OperationID: "op-1"}, nil
}

// fakeWatcher returns its scripted observations one Wait call at a time and
// records the options of each call.
type fakeWatcher struct {
	script  []*migration.Observation
	errs    []error
	gotOpts []monitor.Options
}

func (f *fakeWatcher) Wait(ctx context.Context, h migration.Handle, mode migration.Mode, opts monitor.Options) (*migration.Observation, error) {
	i := len(f.gotOpts)
	f.gotOpts = append(f.gotOpts, opts)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i >= len(f.script) {
		return nil, err
	}
	return f.script[i], err
}

type fakeGate struct {
	confirmations []bool
	err           error
}

func (f *fakeGate) Request(ctx context.Context, h migration.Handle, confirmed bool) error {
	f.confirmations = append(f.confirmations, confirmed)
	if !confirmed {
		return nil
	}
	return f.err
}

func terminalOffline() *migration.Observation {
	return &migration.Observation{
		ProvisioningState: migration.ProvisioningStateSucceeded,
		Status:            migration.StatusSucceeded,
		ObservedAt:        fixedTime,
	}
}

func shippingLogs() *migration.Observation {
	return &migration.Observation{
		ProvisioningState: migration.ProvisioningStateSucceeded,
		Status:            migration.StatusLogShippingInProgress,
		ObservedAt:        fixedTime,
	}
}

func succeededOnline() *migration.Observation {
	return &migration.Observation{
		ProvisioningState: migration.ProvisioningStateSucceeded,
		Status:            migration.StatusSucceeded,
		ObservedAt:        fixedTime,
	}
}

type fixture struct {
	tokens   *fakeTokens
	backups  *fakeBackups
	jobs     *fakeJobs
	launcher *fakeLauncher
	watcher  *fakeWatcher
	gate     *fakeGate
	orch     *Orchestrator
}

func newFixture(watcher *fakeWatcher) *fixture {
	f := &fixture{
		tokens:   &fakeTokens{},
		backups:  &fakeBackups{},
		jobs:     &fakeJobs{},
		launcher: &fakeLauncher{},
		watcher:  watcher,
		gate:     &fakeGate{},
	}
	f.orch = NewOrchestrator(f.tokens, f.backups, f.jobs, f.launcher, f.watcher, f.gate)
	return f
}

func descriptorFor(mode migration.Mode) migration.Descriptor {
	return migration.Descriptor{
		Mode:    mode,
		Source:  migration.Source{Host: "db01", User: "migrator", Database: "sales"},
		Target:  testTarget("sales"),
		Storage: migration.Storage{Account: "stmig", Container: "backups"},
	}
}

func TestRunOfflineAutoBackup(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{terminalOffline()}})

	var phases []string
	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOffline), secrets.New("pw"), Options{
		AutoBackup: true,
		SASExpiry:  24 * time.Hour,
		OnPhase:    func(p string) { phases = append(phases, p) },
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if f.tokens.calls != 1 || f.backups.credCalls != 1 || f.backups.fullCalls != 1 {
		t.Errorf("token/credential/full calls = %d/%d/%d, want 1/1/1",
			f.tokens.calls, f.backups.credCalls, f.backups.fullCalls)
	}
	if f.backups.logCalls != 0 {
		t.Errorf("TakeLogBackup called %d times in offline mode, want 0", f.backups.logCalls)
	}

	// The full backup just taken must seed the submission.
	want := "sales_FULL_20260830_140509.bak"
	if f.launcher.gotDescriptor.LastBackupName != want {
		t.Errorf("submitted LastBackupName = %q, want %q", f.launcher.gotDescriptor.LastBackupName, want)
	}

	if result.Final == nil || result.Final.ProvisioningState != migration.ProvisioningStateSucceeded {
		t.Errorf("Final = %+v, want terminal provisioning state", result.Final)
	}
	if len(result.Artifacts) != 1 {
		t.Errorf("Artifacts = %d, want 1", len(result.Artifacts))
	}
	if len(phases) == 0 || !strings.Contains(strings.Join(phases, ","), "submitting migration") {
		t.Errorf("phases = %v, want submission phase reported", phases)
	}
}

func TestRunOfflineExplicitSeedWins(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{terminalOffline()}})

	_, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOffline), secrets.New("pw"), Options{
		AutoBackup:     true,
		LastBackupName: "sales_FULL_20260101_000000.bak",
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if got := f.launcher.gotDescriptor.LastBackupName; got != "sales_FULL_20260101_000000.bak" {
		t.Errorf("submitted LastBackupName = %q, want explicit seed", got)
	}
}

func TestRunOfflineDescriptorSeedPreserved(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{terminalOffline()}})
	d := descriptorFor(migration.ModeOffline)
	d.LastBackupName = "sales_FULL_20260101_000000.bak"

	_, err := f.orch.Run(context.Background(), d, secrets.New("pw"), Options{})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if got := f.launcher.gotDescriptor.LastBackupName; got != "sales_FULL_20260101_000000.bak" {
		t.Errorf("submitted LastBackupName = %q, want descriptor seed preserved", got)
	}
}

func TestRunOfflineDescriptorSeedWinsOverAutoBackup(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{terminalOffline()}})
	d := descriptorFor(migration.ModeOffline)
	d.LastBackupName = "sales_FULL_20260101_000000.bak"

	_, err := f.orch.Run(context.Background(), d, secrets.New("pw"), Options{AutoBackup: true})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if f.backups.fullCalls != 1 {
		t.Errorf("TakeFullBackup called %d times, want 1", f.backups.fullCalls)
	}
	if got := f.launcher.gotDescriptor.LastBackupName; got != "sales_FULL_20260101_000000.bak" {
		t.Errorf("submitted LastBackupName = %q, want descriptor seed, not the new full backup", got)
	}
}

func TestRunOnlineAgentJob(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		AutoBackup:         true,
		CreateLogBackupJob: true,
		LogBackupInterval:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if f.jobs.calls != 1 {
		t.Errorf("EnsureAgentJob called %d times, want 1", f.jobs.calls)
	}
	if f.backups.logCalls != 0 {
		t.Errorf("TakeLogBackup called %d times with agent job, want 0", f.backups.logCalls)
	}
	if result.JobName != "sqlferry-logship-sales" {
		t.Errorf("JobName = %q, want %q", result.JobName, "sqlferry-logship-sales")
	}
}

func TestRunOnlineAgentJobFailureIsFatal(t *testing.T) {
	f := newFixture(&fakeWatcher{})
	f.jobs.err = errors.New("agent not running")

	_, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		AutoBackup:         true,
		CreateLogBackupJob: true,
	})
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if f.launcher.calls != 0 {
		t.Errorf("launcher called %d times after job failure, want 0", f.launcher.calls)
	}
}

func TestRunOnlineLogBackupFailureIsWarning(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})
	f.backups.logErr = &appbackup.LogBackupError{Database: "sales", Err: errors.New("log chain broken")}

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		AutoBackup: true,
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if f.launcher.calls != 1 {
		t.Errorf("launcher called %d times, want 1 (log backup failure is non-fatal)", f.launcher.calls)
	}
	if len(result.Warnings) == 0 {
		t.Error("Warnings empty, want log backup warning")
	}
}

func TestRunOnlineUntypedBackupFailureIsFatal(t *testing.T) {
	f := newFixture(&fakeWatcher{})
	f.backups.logErr = errors.New("connection reset")

	_, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		AutoBackup: true,
	})
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if f.launcher.calls != 0 {
		t.Errorf("launcher called %d times after fatal backup failure, want 0", f.launcher.calls)
	}
}

func TestRunDuplicateSubmissionGuard(t *testing.T) {
	store, err := NewRunStore(filepath.Join(t.TempDir(), "runs.json"))
	if err != nil {
		t.Fatalf("NewRunStore() unexpected error: %v", err)
	}
	if _, err := store.Save(&RunRecord{
		Mode:   migration.ModeOnline,
		Handle: migration.Handle{Target: testTarget("sales")},
	}); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})
	f.orch.WithRunStore(store)

	_, err = f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{})
	if !errors.Is(err, migration.ErrAlreadySubmitted) {
		t.Fatalf("error = %v, want %v", err, migration.ErrAlreadySubmitted)
	}
	if f.launcher.calls != 0 {
		t.Errorf("launcher called %d times, want 0", f.launcher.calls)
	}

	// Force bypasses the guard.
	if _, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{Force: true}); err != nil {
		t.Fatalf("Run() with Force unexpected error: %v", err)
	}
	if f.launcher.calls != 1 {
		t.Errorf("launcher called %d times with Force, want 1", f.launcher.calls)
	}
}

func TestRunOnlineCutoverConfirmed(t *testing.T) {
	watcher := &fakeWatcher{script: []*migration.Observation{shippingLogs(), succeededOnline()}}
	f := newFixture(watcher)

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		Cutover:        true,
		ConfirmCutover: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if len(watcher.gotOpts) != 2 {
		t.Fatalf("Wait called %d times, want 2 (pause, then resume)", len(watcher.gotOpts))
	}
	if watcher.gotOpts[0].StopAtStatus != migration.StatusLogShippingInProgress {
		t.Errorf("first Wait StopAtStatus = %q, want %q",
			watcher.gotOpts[0].StopAtStatus, migration.StatusLogShippingInProgress)
	}
	if watcher.gotOpts[1].StopAtStatus != "" {
		t.Errorf("second Wait StopAtStatus = %q, want empty", watcher.gotOpts[1].StopAtStatus)
	}

	if len(f.gate.confirmations) != 1 || !f.gate.confirmations[0] {
		t.Errorf("gate confirmations = %v, want one confirmed call", f.gate.confirmations)
	}
	if !result.CutoverIssued {
		t.Error("CutoverIssued = false, want true")
	}
	if result.Final == nil || result.Final.Status != migration.StatusSucceeded {
		t.Errorf("Final = %+v, want succeeded", result.Final)
	}
}

func TestRunOnlineCutoverDeclined(t *testing.T) {
	watcher := &fakeWatcher{script: []*migration.Observation{shippingLogs()}}
	f := newFixture(watcher)

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		Cutover:        true,
		ConfirmCutover: func() bool { return false },
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if len(watcher.gotOpts) != 1 {
		t.Errorf("Wait called %d times, want 1 (declined cutover leaves the migration running)", len(watcher.gotOpts))
	}
	if len(f.gate.confirmations) != 1 || f.gate.confirmations[0] {
		t.Errorf("gate confirmations = %v, want one unconfirmed call", f.gate.confirmations)
	}
	if result.CutoverIssued {
		t.Error("CutoverIssued = true, want false")
	}
	if len(result.Warnings) == 0 {
		t.Error("Warnings empty, want declined-cutover warning")
	}
}

func TestRunWithoutCutoverNeverTouchesGate(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})

	if _, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{}); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if len(f.gate.confirmations) != 0 {
		t.Errorf("gate called %d times without Cutover, want 0", len(f.gate.confirmations))
	}
	if f.watcher.gotOpts[0].StopAtStatus != "" {
		t.Errorf("StopAtStatus = %q without Cutover, want empty", f.watcher.gotOpts[0].StopAtStatus)
	}
}

func TestRunWipesPassword(t *testing.T) {
	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})
	password := secrets.New("pw")

	if _, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), password, Options{}); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if !password.Wiped() {
		t.Error("password not wiped after Run()")
	}
}

func TestRunRecordsLedger(t *testing.T) {
	store, err := NewRunStore(filepath.Join(t.TempDir(), "runs.json"))
	if err != nil {
		t.Fatalf("NewRunStore() unexpected error: %v", err)
	}

	f := newFixture(&fakeWatcher{script: []*migration.Observation{succeededOnline()}})
	f.orch.WithRunStore(store)

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if result.RunID == "" {
		t.Fatal("RunID empty, want ledger record")
	}

	rec, err := store.Get(result.RunID)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if rec.Status != RunStatusCompleted {
		t.Errorf("ledger status = %q, want %q", rec.Status, RunStatusCompleted)
	}
}

func TestRunLedgerLogShippingWhenLeftRunning(t *testing.T) {
	store, err := NewRunStore(filepath.Join(t.TempDir(), "runs.json"))
	if err != nil {
		t.Fatalf("NewRunStore() unexpected error: %v", err)
	}

	watcher := &fakeWatcher{script: []*migration.Observation{shippingLogs()}}
	f := newFixture(watcher)
	f.orch.WithRunStore(store)

	result, err := f.orch.Run(context.Background(), descriptorFor(migration.ModeOnline), secrets.New("pw"), Options{
		Cutover:        true,
		ConfirmCutover: func() bool { return false },
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	rec, err := store.Get(result.RunID)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if rec.Status != RunStatusLogShipping {
		t.Errorf("ledger status = %q, want %q", rec.Status, RunStatusLogShipping)
	}
}
