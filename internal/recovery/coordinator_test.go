package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/registry"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

type fakeLifecycle struct {
	existing  map[string]session.Snapshot
	created   []string
	createErr map[string]error
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		existing:  make(map[string]session.Snapshot),
		createErr: make(map[string]error),
	}
}

func (f *fakeLifecycle) Create(ctx context.Context, sessionID, userID, name string, isRecovery bool) (session.Snapshot, error) {
	if err := f.createErr[sessionID]; err != nil {
		return session.Snapshot{}, err
	}
	snap := session.Snapshot{ID: sessionID, UserID: userID, Status: session.StatusInitializing, IsRecovered: isRecovery}
	f.existing[sessionID] = snap
	f.created = append(f.created, sessionID)
	return snap, nil
}

func (f *fakeLifecycle) GetStatus(sessionID string) (session.Snapshot, error) {
	if snap, ok := f.existing[sessionID]; ok {
		return snap, nil
	}
	return session.Snapshot{}, session.ErrSessionNotFound
}

func (f *fakeLifecycle) List() []session.Snapshot {
	out := make([]session.Snapshot, 0, len(f.existing))
	for _, snap := range f.existing {
		out = append(out, snap)
	}
	return out
}

type fakeRecoveryStore struct {
	restored    []string
	snapshotted []string
	restoreErr  error
	snapshotErr map[string]error
}

func (f *fakeRecoveryStore) Restore(ctx context.Context, sessionID string) error {
	f.restored = append(f.restored, sessionID)
	return f.restoreErr
}

func (f *fakeRecoveryStore) Snapshot(ctx context.Context, sessionID string) error {
	if err := f.snapshotErr[sessionID]; err != nil {
		return err
	}
	f.snapshotted = append(f.snapshotted, sessionID)
	return nil
}

type fakeBackend struct {
	assignments []registry.Assignment
	fetchErr    error
	report      *registry.RecoveryReport
	reportErr   error
	preserved   []string
}

func (f *fakeBackend) FetchAssignments(ctx context.Context) ([]registry.Assignment, error) {
	return f.assignments, f.fetchErr
}

func (f *fakeBackend) ReportRecovery(ctx context.Context, report registry.RecoveryReport) error {
	f.report = &report
	return f.reportErr
}

func (f *fakeBackend) NotifyPreserved(ctx context.Context, sessionIDs []string) error {
	f.preserved = sessionIDs
	return nil
}

func newTestCoordinator(eng *fakeLifecycle, store *fakeRecoveryStore, backend *fakeBackend) *Coordinator {
	return NewCoordinator(eng, store, backend, 0, logger.SetupForTesting())
}

func TestStartupRecoveryRecreatesAssignedSessions(t *testing.T) {
	eng := newFakeLifecycle()
	store := &fakeRecoveryStore{}
	backend := &fakeBackend{assignments: []registry.Assignment{
		{SessionID: "s1", UserID: "u1", Status: "CONNECTED"},
		{SessionID: "s2", UserID: "u2", Status: "QR_REQUIRED"},
		{SessionID: "s3", UserID: "u3", Status: "RECONNECTING"},
	}}

	coord := newTestCoordinator(eng, store, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Equal(t, []string{"s1", "s2", "s3"}, eng.created)
	assert.Equal(t, []string{"s1", "s2", "s3"}, store.restored)

	require.NotNil(t, backend.report)
	assert.Equal(t, 3, backend.report.Recovered)
	assert.Zero(t, backend.report.Failed)

	// Sessões recuperadas carregam a flag de recuperação
	snap, err := eng.GetStatus("s1")
	require.NoError(t, err)
	assert.True(t, snap.IsRecovered)
}

func TestStartupRecoverySkipsNonResumableStatuses(t *testing.T) {
	eng := newFakeLifecycle()
	store := &fakeRecoveryStore{}
	backend := &fakeBackend{assignments: []registry.Assignment{
		{SessionID: "s1", UserID: "u1", Status: "CONNECTED"},
		{SessionID: "s2", UserID: "u2", Status: "LOGGED_OUT"},
		{SessionID: "s3", UserID: "u3", Status: "DISCONNECTED"},
	}}

	coord := newTestCoordinator(eng, store, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Equal(t, []string{"s1"}, eng.created)
	assert.Equal(t, 1, backend.report.Recovered)
	assert.Equal(t, 2, backend.report.Skipped)
}

func TestStartupRecoverySkipsExistingSessions(t *testing.T) {
	eng := newFakeLifecycle()
	eng.existing["s1"] = session.Snapshot{ID: "s1", Status: session.StatusConnected}
	store := &fakeRecoveryStore{}
	backend := &fakeBackend{assignments: []registry.Assignment{
		{SessionID: "s1", UserID: "u1", Status: "CONNECTED"},
	}}

	coord := newTestCoordinator(eng, store, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Empty(t, eng.created)
	assert.Equal(t, 1, backend.report.Skipped)
}

// Falhas individuais não interrompem as demais recuperações
func TestStartupRecoveryContinuesAfterFailures(t *testing.T) {
	eng := newFakeLifecycle()
	eng.createErr["s1"] = errors.New("store corrupted")
	store := &fakeRecoveryStore{}
	backend := &fakeBackend{assignments: []registry.Assignment{
		{SessionID: "s1", UserID: "u1", Status: "CONNECTED"},
		{SessionID: "s2", UserID: "u2", Status: "CONNECTED"},
	}}

	coord := newTestCoordinator(eng, store, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Equal(t, []string{"s2"}, eng.created)
	assert.Equal(t, 1, backend.report.Recovered)
	assert.Equal(t, 1, backend.report.Failed)
	assert.Equal(t, "store corrupted", backend.report.Outcomes[0].Error)
}

// Restauração de auth falhando vira QR novo, não erro de recuperação
func TestStartupRecoveryToleratesRestoreFailure(t *testing.T) {
	eng := newFakeLifecycle()
	store := &fakeRecoveryStore{restoreErr: errors.New("bucket missing")}
	backend := &fakeBackend{assignments: []registry.Assignment{
		{SessionID: "s1", UserID: "u1", Status: "CONNECTED"},
	}}

	coord := newTestCoordinator(eng, store, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Equal(t, []string{"s1"}, eng.created)
	assert.Equal(t, 1, backend.report.Recovered)
}

func TestStartupRecoveryWithNoAssignments(t *testing.T) {
	eng := newFakeLifecycle()
	backend := &fakeBackend{}

	coord := newTestCoordinator(eng, &fakeRecoveryStore{}, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))

	assert.Empty(t, eng.created)
	assert.Nil(t, backend.report, "no report when nothing was assigned")
}

func TestStartupRecoveryPropagatesFetchError(t *testing.T) {
	backend := &fakeBackend{fetchErr: errors.New("backend down")}

	coord := newTestCoordinator(newFakeLifecycle(), &fakeRecoveryStore{}, backend)
	assert.Error(t, coord.RunStartupRecovery(context.Background()))
}

// O relatório falhando não falha a recuperação em si
func TestStartupRecoveryToleratesReportFailure(t *testing.T) {
	eng := newFakeLifecycle()
	backend := &fakeBackend{
		assignments: []registry.Assignment{{SessionID: "s1", UserID: "u1", Status: "CONNECTED"}},
		reportErr:   errors.New("backend flaky"),
	}

	coord := newTestCoordinator(eng, &fakeRecoveryStore{}, backend)
	require.NoError(t, coord.RunStartupRecovery(context.Background()))
	assert.Equal(t, []string{"s1"}, eng.created)
}

func TestPreserveSessionsUploadsActiveOnes(t *testing.T) {
	eng := newFakeLifecycle()
	eng.existing["s1"] = session.Snapshot{ID: "s1", Status: session.StatusConnected}
	eng.existing["s2"] = session.Snapshot{ID: "s2", Status: session.StatusQRReady}
	eng.existing["s3"] = session.Snapshot{ID: "s3", Status: session.StatusDisconnected}
	store := &fakeRecoveryStore{}
	backend := &fakeBackend{}

	coord := newTestCoordinator(eng, store, backend)
	preserved := coord.PreserveSessions(context.Background())

	assert.ElementsMatch(t, []string{"s1", "s2"}, preserved)
	assert.ElementsMatch(t, []string{"s1", "s2"}, store.snapshotted)
	assert.ElementsMatch(t, []string{"s1", "s2"}, backend.preserved)
}

func TestPreserveSessionsSkipsFailedUploads(t *testing.T) {
	eng := newFakeLifecycle()
	eng.existing["s1"] = session.Snapshot{ID: "s1", Status: session.StatusConnected}
	eng.existing["s2"] = session.Snapshot{ID: "s2", Status: session.StatusConnected}
	store := &fakeRecoveryStore{snapshotErr: map[string]error{"s1": errors.New("store down")}}
	backend := &fakeBackend{}

	coord := newTestCoordinator(eng, store, backend)
	preserved := coord.PreserveSessions(context.Background())

	assert.Equal(t, []string{"s2"}, preserved)
}
