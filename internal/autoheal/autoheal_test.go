package autoheal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
)

type fakeHealer struct {
	mu        sync.Mutex
	instances map[string]*models.VnfInstance
	calls     map[string][][]string
	healErr   error
}

func newFakeHealer(insts ...*models.VnfInstance) *fakeHealer {
	h := &fakeHealer{
		instances: make(map[string]*models.VnfInstance),
		calls:     make(map[string][][]string),
	}
	for _, inst := range insts {
		h.instances[inst.ID] = inst
	}
	return h
}

func (h *fakeHealer) GetInstance(_ context.Context, id string) (*models.VnfInstance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return inst, nil
}

func (h *fakeHealer) AutoHeal(_ context.Context, instanceID string, vnfcIDs []string) (*models.VnfLcmOpOcc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[instanceID] = append(h.calls[instanceID], vnfcIDs)
	if h.healErr != nil {
		return nil, h.healErr
	}
	return &models.VnfLcmOpOcc{ID: "op-1", VnfInstanceID: instanceID, Operation: models.OpHeal}, nil
}

func (h *fakeHealer) healCalls(instanceID string) [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.calls[instanceID]...)
}

// monitoredInstance has two VDU1 servers raising alarm-a and one VDU2
// server raising alarm-b.
func monitoredInstance(id string, autoheal bool) *models.VnfInstance {
	alarm := func(a string) map[string]interface{} {
		return map[string]interface{}{
			"server_notification": map[string]interface{}{"alarmId": a},
		}
	}
	return &models.VnfInstance{
		ID:                        id,
		InstantiationState:        models.Instantiated,
		VnfConfigurableProperties: map[string]interface{}{"isAutohealEnabled": autoheal},
		InstantiatedVnfInfo: &models.InstantiatedVnfInfo{
			FlavourID: "simple",
			Metadata: map[string]interface{}{
				FaultIDMetadataKey: []interface{}{"fault-1", "fault-2"},
			},
			VnfcResourceInfo: []models.VnfcResourceInfo{
				{ID: "res-1", VduID: "VDU1", Metadata: alarm("alarm-a")},
				{ID: "res-2", VduID: "VDU1", Metadata: alarm("alarm-a")},
				{ID: "res-3", VduID: "VDU2", Metadata: alarm("alarm-b")},
				{ID: "res-4", VduID: "VDU2"},
			},
			VnfcInfo: []models.VnfcInfo{
				{ID: "VDU1-res-1", VduID: "VDU1", VnfcResourceInfoID: "res-1", VnfcState: "STARTED"},
				{ID: "VDU1-res-2", VduID: "VDU1", VnfcResourceInfoID: "res-2", VnfcState: "STARTED"},
				{ID: "VDU2-res-3", VduID: "VDU2", VnfcResourceInfoID: "res-3", VnfcState: "STARTED"},
				{ID: "VDU2-res-4", VduID: "VDU2", VnfcResourceInfoID: "res-4", VnfcState: "STARTED"},
			},
		},
	}
}

func TestNewNotifier(t *testing.T) {
	logger := zaptest.NewLogger(t)

	n, err := NewNotifier(newFakeHealer(), 0, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindow, n.window)

	_, err = NewNotifier(nil, time.Second, logger)
	assert.Error(t, err)

	_, err = NewNotifier(newFakeHealer(), time.Second, nil)
	assert.Error(t, err)
}

func TestTargetVnfcs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.VnfInstance)
		alarmID string
		faultID string
		want    []string
		wantErr error
	}{
		{
			name:    "alarm on two servers",
			alarmID: "alarm-a",
			faultID: "fault-1",
			want:    []string{"VDU1-res-1", "VDU1-res-2"},
		},
		{
			name:    "alarm on one server",
			alarmID: "alarm-b",
			faultID: "fault-2",
			want:    []string{"VDU2-res-3"},
		},
		{
			name: "fault id held as a string",
			mutate: func(inst *models.VnfInstance) {
				inst.InstantiatedVnfInfo.Metadata[FaultIDMetadataKey] = "fault-9"
			},
			alarmID: "alarm-b",
			faultID: "fault-9",
			want:    []string{"VDU2-res-3"},
		},
		{
			name:    "unknown fault id",
			alarmID: "alarm-a",
			faultID: "fault-3",
			wantErr: ErrFaultIDMismatch,
		},
		{
			name:    "unknown alarm id",
			alarmID: "alarm-z",
			faultID: "fault-1",
			wantErr: ErrVnfcNotFound,
		},
		{
			name:    "not instantiated",
			mutate:  func(inst *models.VnfInstance) { inst.InstantiatedVnfInfo = nil },
			alarmID: "alarm-a",
			faultID: "fault-1",
			wantErr: ErrNotMonitored,
		},
		{
			name:    "no metadata",
			mutate:  func(inst *models.VnfInstance) { inst.InstantiatedVnfInfo.Metadata = nil },
			alarmID: "alarm-a",
			faultID: "fault-1",
			wantErr: ErrNotMonitored,
		},
		{
			name:    "no vnfc info",
			mutate:  func(inst *models.VnfInstance) { inst.InstantiatedVnfInfo.VnfcInfo = nil },
			alarmID: "alarm-a",
			faultID: "fault-1",
			wantErr: ErrNotMonitored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := monitoredInstance("inst-1", true)
			if tt.mutate != nil {
				tt.mutate(inst)
			}

			got, err := TargetVnfcs(inst, tt.alarmID, tt.faultID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotifier_Notify(t *testing.T) {
	healer := newFakeHealer(
		monitoredInstance("inst-on", true),
		monitoredInstance("inst-off", false),
	)
	n, err := NewNotifier(healer, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	ctx := context.Background()

	t.Run("unknown instance", func(t *testing.T) {
		err := n.Notify(ctx, "missing", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"})
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("auto-heal disabled", func(t *testing.T) {
		err := n.Notify(ctx, "inst-off", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"})
		require.NoError(t, err)
		assert.Empty(t, n.Pending("inst-off"))
	})

	t.Run("fault id mismatch", func(t *testing.T) {
		err := n.Notify(ctx, "inst-on", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "nope"})
		assert.ErrorIs(t, err, ErrFaultIDMismatch)
		assert.Empty(t, n.Pending("inst-on"))
	})

	t.Run("queued", func(t *testing.T) {
		require.NoError(t, n.Notify(ctx, "inst-on", "srv-3", &Notification{AlarmID: "alarm-b", FaultID: "fault-2"}))
		require.NoError(t, n.Notify(ctx, "inst-on", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
		require.NoError(t, n.Notify(ctx, "inst-on", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
		assert.Equal(t, []string{"VDU1-res-1", "VDU1-res-2", "VDU2-res-3"}, n.Pending("inst-on"))
		assert.Empty(t, healer.healCalls("inst-on"))
	})

	t.Run("storage failure passes through", func(t *testing.T) {
		failing := &erroringHealer{err: storage.ErrStorageUnavailable}
		fn, err := NewNotifier(failing, time.Hour, zaptest.NewLogger(t))
		require.NoError(t, err)
		err = fn.Notify(ctx, "inst-on", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"})
		assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, ErrInstanceNotFound)
	})
}

type erroringHealer struct{ err error }

func (h *erroringHealer) GetInstance(context.Context, string) (*models.VnfInstance, error) {
	return nil, h.err
}

func (h *erroringHealer) AutoHeal(context.Context, string, []string) (*models.VnfLcmOpOcc, error) {
	return nil, h.err
}

func TestNotifier_BatchesHeal(t *testing.T) {
	healer := newFakeHealer(monitoredInstance("inst-1", true), monitoredInstance("inst-2", true))
	n, err := NewNotifier(healer, 30*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "inst-1", "srv-3", &Notification{AlarmID: "alarm-b", FaultID: "fault-2"}))
	require.NoError(t, n.Notify(ctx, "inst-1", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
	require.NoError(t, n.Notify(ctx, "inst-2", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))

	require.Eventually(t, func() bool {
		return len(healer.healCalls("inst-1")) == 1 && len(healer.healCalls("inst-2")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"VDU1-res-1", "VDU1-res-2", "VDU2-res-3"}, healer.healCalls("inst-1")[0])
	assert.Equal(t, []string{"VDU1-res-1", "VDU1-res-2"}, healer.healCalls("inst-2")[0])
	assert.Empty(t, n.Pending("inst-1"))

	// A later notification opens a new batch.
	require.NoError(t, n.Notify(ctx, "inst-1", "srv-3", &Notification{AlarmID: "alarm-b", FaultID: "fault-2"}))
	require.Eventually(t, func() bool {
		return len(healer.healCalls("inst-1")) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"VDU2-res-3"}, healer.healCalls("inst-1")[1])
}

func TestNotifier_HealErrorIsLogged(t *testing.T) {
	healer := newFakeHealer(monitoredInstance("inst-1", true))
	healer.healErr = errors.New("other operation in progress")
	n, err := NewNotifier(healer, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(n.Stop)

	require.NoError(t, n.Notify(context.Background(), "inst-1", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
	require.Eventually(t, func() bool {
		return len(healer.healCalls("inst-1")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, n.Pending("inst-1"))
}

func TestNotifier_Cancel(t *testing.T) {
	healer := newFakeHealer(monitoredInstance("inst-1", true))
	n, err := NewNotifier(healer, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(n.Stop)

	require.NoError(t, n.Notify(context.Background(), "inst-1", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
	require.NotEmpty(t, n.Pending("inst-1"))

	n.Cancel("inst-1")
	assert.Empty(t, n.Pending("inst-1"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, healer.healCalls("inst-1"))

	// Cancelling an instance without a batch is a no-op.
	n.Cancel("inst-unknown")
}

func TestNotifier_Stop(t *testing.T) {
	healer := newFakeHealer(monitoredInstance("inst-1", true))
	n, err := NewNotifier(healer, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "inst-1", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
	n.Stop()
	assert.Empty(t, n.Pending("inst-1"))

	// Notifications after Stop are accepted but never queued.
	require.NoError(t, n.Notify(context.Background(), "inst-1", "srv-1", &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}))
	assert.Empty(t, n.Pending("inst-1"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, healer.healCalls("inst-1"))
}

type recordingPublisher struct {
	opOccs  []*models.VnfLcmOpOcc
	created []string
	deleted []string
}

func (p *recordingPublisher) NotifyOpOcc(_ context.Context, opOcc *models.VnfLcmOpOcc, _ *models.VnfInstance) error {
	p.opOccs = append(p.opOccs, opOcc)
	return nil
}

func (p *recordingPublisher) NotifyInstanceCreated(_ context.Context, inst *models.VnfInstance) error {
	p.created = append(p.created, inst.ID)
	return nil
}

func (p *recordingPublisher) NotifyInstanceDeleted(_ context.Context, inst *models.VnfInstance) error {
	p.deleted = append(p.deleted, inst.ID)
	return nil
}

func TestNotifier_Publisher(t *testing.T) {
	ctx := context.Background()
	note := &Notification{AlarmID: "alarm-a", FaultID: "fault-1"}

	newQueued := func(t *testing.T) *Notifier {
		t.Helper()
		n, err := NewNotifier(newFakeHealer(monitoredInstance("inst-1", true)), time.Hour, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(n.Stop)
		require.NoError(t, n.Notify(ctx, "inst-1", "srv-1", note))
		require.NotEmpty(t, n.Pending("inst-1"))
		return n
	}

	t.Run("heal keeps the batch", func(t *testing.T) {
		n := newQueued(t)
		next := &recordingPublisher{}
		pub := n.Publisher(next)

		opOcc := &models.VnfLcmOpOcc{ID: "op-1", VnfInstanceID: "inst-1", Operation: models.OpHeal}
		require.NoError(t, pub.NotifyOpOcc(ctx, opOcc, nil))
		assert.NotEmpty(t, n.Pending("inst-1"))
		assert.Len(t, next.opOccs, 1)
	})

	t.Run("terminate drops the batch", func(t *testing.T) {
		n := newQueued(t)
		next := &recordingPublisher{}
		pub := n.Publisher(next)

		opOcc := &models.VnfLcmOpOcc{ID: "op-2", VnfInstanceID: "inst-1", Operation: models.OpTerminate}
		require.NoError(t, pub.NotifyOpOcc(ctx, opOcc, nil))
		assert.Empty(t, n.Pending("inst-1"))
		assert.Len(t, next.opOccs, 1)
	})

	t.Run("delete drops the batch", func(t *testing.T) {
		n := newQueued(t)
		next := &recordingPublisher{}
		pub := n.Publisher(next)

		require.NoError(t, pub.NotifyInstanceCreated(ctx, &models.VnfInstance{ID: "inst-9"}))
		require.NoError(t, pub.NotifyInstanceDeleted(ctx, &models.VnfInstance{ID: "inst-1"}))
		assert.Empty(t, n.Pending("inst-1"))
		assert.Equal(t, []string{"inst-9"}, next.created)
		assert.Equal(t, []string{"inst-1"}, next.deleted)
	})

	t.Run("nil next publisher", func(t *testing.T) {
		n := newQueued(t)
		pub := n.Publisher(nil)

		opOcc := &models.VnfLcmOpOcc{ID: "op-3", VnfInstanceID: "inst-1", Operation: models.OpTerminate}
		require.NoError(t, pub.NotifyOpOcc(ctx, opOcc, nil))
		require.NoError(t, pub.NotifyInstanceCreated(ctx, &models.VnfInstance{ID: "inst-1"}))
		require.NoError(t, pub.NotifyInstanceDeleted(ctx, &models.VnfInstance{ID: "inst-1"}))
		assert.Empty(t, n.Pending("inst-1"))
	})
}
