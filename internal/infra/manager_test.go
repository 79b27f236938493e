package infra_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/infra/mock"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

func testSpec() *infra.StackSpec {
	return &infra.StackSpec{
		Name:       infra.StackName("inst-1"),
		InstanceID: "inst-1",
		VirtualLinks: []infra.VirtualLinkSpec{
			{ID: "vl-1", DescID: "internalVL1"},
		},
		Vnfcs: []infra.VnfcSpec{
			{
				ID:       "vnfc-0",
				VduID:    "VDU1",
				Storages: []infra.StorageSpec{{ID: "st-0", DescID: "VirtualStorage", SizeGB: 1}},
				Ports:    []infra.PortSpec{{CpdID: "VDU1_CP1", VirtualLink: "vl-1"}},
			},
			{ID: "vnfc-1", VduID: "VDU1"},
			{ID: "vnfc-2", VduID: "VDU2"},
		},
	}
}

func newManager(t *testing.T, drivers ...infra.Driver) (*infra.Manager, *asyncpoll.FakeClock, *observability.Metrics) {
	t.Helper()
	clock := asyncpoll.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := asyncpoll.NewScheduler(clock, zaptest.NewLogger(t), nil)
	t.Cleanup(sched.Stop)

	reg := infra.NewRegistry(zaptest.NewLogger(t))
	for i, d := range drivers {
		require.NoError(t, reg.Register(d, i == 0))
	}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	return infra.NewManager(reg, sched, 5*time.Second, time.Minute, zaptest.NewLogger(t), metrics), clock, metrics
}

func TestManager_ApplyIsIdempotent(t *testing.T) {
	drv := mock.NewDriver()
	m, _, metrics := newManager(t, drv)
	ctx := context.Background()

	first, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)
	assert.Len(t, first, 6)
	assert.Equal(t, infra.KindCompute, first["vnfc-0"].Kind)
	assert.Equal(t, infra.KindStorage, first["st-0"].Kind)
	assert.Equal(t, infra.KindNetwork, first["vl-1"].Kind)
	assert.Equal(t, infra.KindPort, first[infra.PortName("vnfc-0", "VDU1_CP1")].Kind)

	second, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 6, drv.Created())

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.InfraOperationsTotal.WithLabelValues("mock", "apply", "success")), 0)
}

func TestManager_ApplyFailure(t *testing.T) {
	drv := mock.NewDriver()
	m, _, _ := newManager(t, drv)

	drv.FailNextApply("Quota exceeded")
	_, err := m.Apply(context.Background(), nil, testSpec())
	require.ErrorIs(t, err, infra.ErrStackFailed)
	assert.Contains(t, err.Error(), "Quota exceeded")

	// A retry reconciles the partially created stack.
	res, err := m.Apply(context.Background(), nil, testSpec())
	require.NoError(t, err)
	assert.Len(t, res, 6)
}

func TestManager_HealRecreatesOnlyTargets(t *testing.T) {
	drv := mock.NewDriver()
	m, _, _ := newManager(t, drv)
	ctx := context.Background()

	before, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)

	after, err := m.Heal(ctx, nil, testSpec(), []string{"vnfc-1"})
	require.NoError(t, err)

	assert.NotEqual(t, before["vnfc-1"].PhysicalID, after["vnfc-1"].PhysicalID)
	assert.Equal(t, before["vnfc-0"].PhysicalID, after["vnfc-0"].PhysicalID)
	assert.Equal(t, before["vnfc-2"].PhysicalID, after["vnfc-2"].PhysicalID)
	assert.Equal(t, before["st-0"].PhysicalID, after["st-0"].PhysicalID)
}

func TestManager_ScaleInRemovesResources(t *testing.T) {
	drv := mock.NewDriver()
	m, _, _ := newManager(t, drv)
	ctx := context.Background()

	_, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)

	spec := testSpec()
	spec.Vnfcs = spec.Vnfcs[:2]
	res, err := m.Apply(ctx, nil, spec)
	require.NoError(t, err)
	assert.NotContains(t, res, "vnfc-2")
}

func TestManager_Delete(t *testing.T) {
	drv := mock.NewDriver()
	m, _, _ := newManager(t, drv)
	ctx := context.Background()

	_, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, nil, infra.StackName("inst-1")))
	assert.Empty(t, drv.Stacks())

	// Deleting a missing stack is fine.
	require.NoError(t, m.Delete(ctx, nil, infra.StackName("inst-1")))
}

func TestManager_DeleteFailure(t *testing.T) {
	drv := mock.NewDriver()
	m, _, _ := newManager(t, drv)
	ctx := context.Background()

	_, err := m.Apply(ctx, nil, testSpec())
	require.NoError(t, err)

	drv.FailNextDelete("volume in use")
	err = m.Delete(ctx, nil, infra.StackName("inst-1"))
	require.ErrorIs(t, err, infra.ErrStackFailed)
}

// slowDriver reports IN_PROGRESS a fixed number of times before the
// stack completes.
type slowDriver struct {
	*mock.Driver

	mu      sync.Mutex
	pending int
	status  string
}

func (d *slowDriver) Status(ctx context.Context, vim *models.VimConnectionInfo, name string) (*infra.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending > 0 {
		d.pending--
		return &infra.Status{Status: "CREATE_IN_PROGRESS"}, nil
	}
	if d.status != "" {
		return &infra.Status{Status: d.status}, nil
	}
	return d.Driver.Status(ctx, vim, name)
}

func TestManager_PollsAtFixedInterval(t *testing.T) {
	drv := &slowDriver{Driver: mock.NewDriver(), pending: 2}
	m, clock, _ := newManager(t, drv)

	done := make(chan error, 1)
	go func() {
		_, err := m.Apply(context.Background(), nil, testSpec())
		done <- err
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Waits())
}

func TestManager_PollTimeout(t *testing.T) {
	drv := &slowDriver{Driver: mock.NewDriver(), pending: 1000}
	m, clock, _ := newManager(t, drv)

	done := make(chan error, 1)
	go func() {
		_, err := m.Apply(context.Background(), nil, testSpec())
		done <- err
	}()

	for i := 0; i < 12; i++ {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}
	require.ErrorIs(t, <-done, asyncpoll.ErrRetryTimeout)
}

func TestManager_UnknownStatus(t *testing.T) {
	drv := &slowDriver{Driver: mock.NewDriver(), status: "SNAPSHOT_WEIRD"}
	m, _, _ := newManager(t, drv)

	_, err := m.Apply(context.Background(), nil, testSpec())
	require.ErrorIs(t, err, infra.ErrStackFailed)
	assert.Contains(t, err.Error(), "Unknown error")
}

func TestRegistry(t *testing.T) {
	reg := infra.NewRegistry(zaptest.NewLogger(t))
	_, err := reg.Get(models.VimTypeOpenStack)
	require.ErrorIs(t, err, infra.ErrNoDriver)
	require.Error(t, reg.Health(context.Background()))

	drv := mock.NewDriver()
	require.NoError(t, reg.Register(drv, false))
	require.Error(t, reg.Register(mock.NewDriver(), false))

	got, err := reg.Get(mock.VimType)
	require.NoError(t, err)
	assert.Same(t, drv, got)

	_, err = reg.Get(models.VimTypeOpenStack)
	require.ErrorIs(t, err, infra.ErrNoDriver)

	reg2 := infra.NewRegistry(nil)
	require.NoError(t, reg2.Register(drv, true))
	got, err = reg2.Get(models.VimTypeOpenStack)
	require.NoError(t, err)
	assert.Same(t, drv, got)
	require.NoError(t, reg2.Health(context.Background()))

	meta := reg2.ListMetadata()
	require.Len(t, meta, 1)
	assert.True(t, meta[0].Default)
	assert.Equal(t, "mock", meta[0].Name)
}

func TestStatusDone(t *testing.T) {
	tests := []struct {
		status  string
		done    bool
		wantErr bool
	}{
		{status: "CREATE_COMPLETE", done: true},
		{status: "UPDATE_IN_PROGRESS"},
		{status: "CREATE_FAILED", done: true, wantErr: true},
		{status: "", done: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			done, err := (&infra.Status{Status: tt.status}).Done()
			assert.Equal(t, tt.done, done)
			if tt.wantErr {
				require.ErrorIs(t, err, infra.ErrStackFailed)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
