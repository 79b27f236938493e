package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/grant"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/infra/mock"
	"github.com/piwi3910/vnfm/internal/lock"
	"github.com/piwi3910/vnfm/internal/mgmtdriver"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// fakeHooks is a mgmtdriver.Invoker recording hook calls. Hooks listed in
// fail return an ExecutionError carrying the mapped error data.
type fakeHooks struct {
	mu     sync.Mutex
	calls  []string
	inputs map[string]map[string]interface{}
	fail   map[string]map[string]interface{}

	gateHook string
	entered  chan struct{}
	gate     chan struct{}
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{
		inputs: make(map[string]map[string]interface{}),
		fail:   make(map[string]map[string]interface{}),
	}
}

// hold makes hook block until the returned func is called.
func (h *fakeHooks) hold(hook string) (entered <-chan struct{}, release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gateHook = hook
	h.entered = make(chan struct{})
	h.gate = make(chan struct{})
	gate := h.gate
	return h.entered, func() { close(gate) }
}

func (h *fakeHooks) failWith(hook string, data map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if data == nil {
		data = map[string]interface{}{}
	}
	h.fail[hook] = data
}

func (h *fakeHooks) clear(hook string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fail, hook)
}

func (h *fakeHooks) called() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHooks) errDataSeenBy(hook string) map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inputs[hook]
}

func (h *fakeHooks) Run(_ context.Context, _ *vnfpkg.Package, _, hook string, in *mgmtdriver.Input) (*mgmtdriver.Output, error) {
	h.mu.Lock()
	h.calls = append(h.calls, hook)
	h.inputs[hook] = in.UserScriptErrHandlingData
	var gate chan struct{}
	if hook == h.gateHook && h.gate != nil {
		gate = h.gate
		close(h.entered)
		h.gateHook = ""
	}
	data, failing := h.fail[hook]
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failing {
		return nil, &mgmtdriver.ExecutionError{
			Hook:                      hook,
			Stderr:                    "exit status 1",
			UserScriptErrHandlingData: data,
		}
	}
	return &mgmtdriver.Output{}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []models.OperationState
	events []string
}

func (p *recordingPublisher) NotifyOpOcc(_ context.Context, opOcc *models.VnfLcmOpOcc, _ *models.VnfInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, opOcc.OperationState)
	return nil
}

func (p *recordingPublisher) NotifyInstanceCreated(_ context.Context, inst *models.VnfInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "created:"+inst.ID)
	return nil
}

func (p *recordingPublisher) NotifyInstanceDeleted(_ context.Context, inst *models.VnfInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "deleted:"+inst.ID)
	return nil
}

func (p *recordingPublisher) seen() []models.OperationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OperationState(nil), p.states...)
}

// ticker hands out strictly increasing timestamps.
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (k *ticker) now() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.t = k.t.Add(time.Second)
	return k.t
}

const (
	testVnfdID    = "vnfd-1"
	testVnfdIDv2  = "vnfd-2"
	testFlavourID = "simple"
	testAspectID  = "VDU1_scale"
	testLevelID   = "instantiation_level_1"
)

func testVNFD(vnfdID, version, image string) *vnfpkg.VNFD {
	vdu1 := &vnfpkg.Vdu{
		ID:       "VDU1",
		Image:    image,
		Flavour:  "m1.tiny",
		MinCount: 1,
		MaxCount: 3,
		Storages: []string{"VirtualStorage"},
		Cps: map[string]*vnfpkg.Cp{
			"VDU1_CP1": {VirtualLink: "internalVL1"},
			"VDU1_CP2": {},
		},
	}
	vdu2 := &vnfpkg.Vdu{
		ID:       "VDU2",
		Image:    image,
		Flavour:  "m1.small",
		MinCount: 1,
		MaxCount: 1,
		Cps: map[string]*vnfpkg.Cp{
			"VDU2_CP1": {VirtualLink: "internalVL1"},
		},
	}
	return &vnfpkg.VNFD{
		VnfdID:          vnfdID,
		Provider:        "Company",
		ProductName:     "Sample VNF",
		SoftwareVersion: version,
		VnfdVersion:     version,
		Flavours: map[string]*vnfpkg.Flavour{
			testFlavourID: {
				ID:           testFlavourID,
				Vdus:         map[string]*vnfpkg.Vdu{"VDU1": vdu1, "VDU2": vdu2},
				VirtualLinks: []string{"internalVL1"},
				VirtualStorages: map[string]*vnfpkg.VirtualStorage{
					"VirtualStorage": {SizeGB: 1},
				},
				InstantiationLevels: map[string]*vnfpkg.Level{
					testLevelID: {
						VduCounts:   map[string]int{"VDU1": 2, "VDU2": 1},
						ScaleLevels: map[string]int{testAspectID: 1},
					},
				},
				DefaultInstantiationLevel: testLevelID,
				ScalingAspects: map[string]*vnfpkg.ScalingAspect{
					testAspectID: {MaxScaleLevel: 2, Deltas: map[string]int{"VDU1": 1}},
				},
			},
		},
	}
}

type harness struct {
	c         *Conductor
	store     *storage.RedisStore
	driver    *mock.Driver
	hooks     *fakeHooks
	publisher *recordingPublisher
	metrics   *observability.Metrics
}

// newHarness builds a conductor on miniredis and the mock driver. opts
// adjust the config before the conductor is created.
func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mr := miniredis.RunT(t)
	cfg := storage.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.MaxRetries = 1
	cfg.DialTimeout = time.Second
	sealer, err := storage.NewSealer("conductor-test-secret")
	require.NoError(t, err)
	store := storage.NewRedisStore(storage.NewClient(cfg), sealer)

	drv := mock.NewDriver()
	reg := infra.NewRegistry(logger)
	require.NoError(t, reg.Register(drv, true))
	sched := asyncpoll.NewScheduler(asyncpoll.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), logger, nil)

	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	hooks := newFakeHooks()
	pub := &recordingPublisher{}
	clock := &ticker{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := &Config{
		Store:   store,
		Locker:  lock.NewMemoryLocker(),
		Grants:  grant.NewLocalNFVO([]string{"zone-a"}, logger, nil),
		Hooks:   hooks,
		Catalog: vnfpkg.StaticCatalog{
			testVnfdID:   {Dir: t.TempDir(), VNFD: testVNFD(testVnfdID, "1.0", "cirros-1")},
			testVnfdIDv2: {Dir: t.TempDir(), VNFD: testVNFD(testVnfdIDv2, "2.0", "cirros-2")},
		},
		Infra:     infra.NewManager(reg, sched, time.Second, time.Minute, logger, metrics),
		Publisher: pub,
		Endpoint:  "http://vnfm.example.com",
		Logger:    logger,
		Metrics:   metrics,
		Now:       clock.now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
		sched.Stop()
		_ = store.Close()
	})
	return &harness{c: c, store: store, driver: drv, hooks: hooks, publisher: pub, metrics: metrics}
}

func (h *harness) createInstance(t *testing.T) *models.VnfInstance {
	t.Helper()
	inst, err := h.c.CreateInstance(context.Background(), &models.CreateVnfRequest{
		VnfdID:          testVnfdID,
		VnfInstanceName: "vnf-a",
		Metadata:        map[string]interface{}{"owner": "ops", "tier": "gold"},
	})
	require.NoError(t, err)
	return inst
}

func instantiateRequest() *models.InstantiateVnfRequest {
	return &models.InstantiateVnfRequest{
		FlavourID:            testFlavourID,
		InstantiationLevelID: testLevelID,
		ExtVirtualLinks: []models.ExtVirtualLinkData{{
			ID:         "ext-vl-1",
			ResourceID: "net-external",
			ExtCps:     []models.VnfExtCpData{{CpdID: "VDU1_CP2"}},
		}},
	}
}

// instantiated returns an INSTANTIATED instance.
func (h *harness) instantiated(t *testing.T) *models.VnfInstance {
	t.Helper()
	inst := h.createInstance(t)
	opOcc, err := h.c.Instantiate(context.Background(), inst.ID, instantiateRequest())
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateCompleted)
	return h.instance(t, inst.ID)
}

// requireState waits for the running pipelines and checks the op-occ.
func (h *harness) requireState(t *testing.T, opOccID string, want models.OperationState) *models.VnfLcmOpOcc {
	t.Helper()
	h.c.Wait()
	opOcc, err := h.c.GetOpOcc(context.Background(), opOccID)
	require.NoError(t, err)
	require.Equal(t, want, opOcc.OperationState, "op-occ error: %+v", opOcc.Error)
	return opOcc
}

func (h *harness) instance(t *testing.T, id string) *models.VnfInstance {
	t.Helper()
	inst, err := h.c.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{Store: storage.NewRedisStore(nil, nil)})
	assert.Error(t, err)
}

func TestHandlers_CoverAllOperations(t *testing.T) {
	c := &Conductor{}
	ops := c.handlers()
	for _, op := range models.AllOperations {
		h, ok := ops[op]
		require.True(t, ok, "no handler for %s", op)
		assert.NotNil(t, h.process, "%s has no process step", op)

		_, err := mgmtdriver.HooksFor(op)
		assert.NoError(t, err)
	}

	assert.Nil(t, ops[models.OpHeal].rollback)
	assert.Nil(t, ops[models.OpTerminate].rollback)
	assert.NotNil(t, ops[models.OpInstantiate].rollback)
	assert.NotNil(t, ops[models.OpModifyInfo].rollback)
}

func TestInstantiate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	opOcc, err := h.c.Instantiate(ctx, inst.ID, instantiateRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, opOcc.OperationState)
	assert.Equal(t, models.OpInstantiate, opOcc.Operation)
	assert.False(t, opOcc.IsAutomaticInvocation)

	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Nil(t, done.Error)
	assert.NotEmpty(t, done.GrantID)
	require.NotNil(t, done.ResourceChanges)
	assert.Len(t, done.ResourceChanges.AffectedVnfcs, 3)
	assert.Len(t, done.ChangedExtConnectivity, 1)

	got := h.instance(t, inst.ID)
	assert.Equal(t, models.Instantiated, got.InstantiationState)
	info := got.InstantiatedVnfInfo
	require.NotNil(t, info)
	assert.Equal(t, testFlavourID, info.FlavourID)
	assert.Len(t, info.VnfcsOf("VDU1"), 2)
	assert.Len(t, info.VnfcsOf("VDU2"), 1)
	assert.Len(t, info.VnfcInfo, 3)
	assert.Len(t, info.VirtualStorageResourceInfo, 2)

	level, ok := info.ScaleLevel(testAspectID)
	require.True(t, ok)
	assert.Equal(t, 1, level)

	for _, v := range info.VnfcResourceInfo {
		assert.NotEmpty(t, v.ComputeResource.ResourceID)
		assert.Equal(t, "cirros-1", v.Metadata[metaImage])
		assert.Equal(t, "zone-a", v.Metadata[metaZone])
	}
	require.Len(t, info.ExtVirtualLinkInfo, 1)
	assert.Len(t, info.ExtVirtualLinkInfo[0].ExtLinkPorts, 2)

	assert.Equal(t, []string{infra.StackName(inst.ID)}, h.driver.Stacks())
	assert.Equal(t, []string{"instantiate_start", "instantiate_end"}, h.hooks.called())
	assert.Equal(t, []models.OperationState{models.StateProcessing, models.StateCompleted}, h.publisher.seen())

	_, err = h.store.GetWork(ctx, opOcc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	rec, err := h.store.GetGrant(ctx, opOcc.ID)
	require.NoError(t, err)
	assert.Equal(t, done.GrantID, rec.Grant.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OpOccTransitionsTotal.WithLabelValues("INSTANTIATE", "COMPLETED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.OpOccsInFlight))
}

func TestInstantiate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	tests := []struct {
		name    string
		req     *models.InstantiateVnfRequest
		wantErr error
	}{
		{
			name:    "missing flavour",
			req:     &models.InstantiateVnfRequest{},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown flavour",
			req:     &models.InstantiateVnfRequest{FlavourID: "large"},
			wantErr: vnfpkg.ErrFlavourNotFound,
		},
		{
			name:    "unknown level",
			req:     &models.InstantiateVnfRequest{FlavourID: testFlavourID, InstantiationLevelID: "nope"},
			wantErr: vnfpkg.ErrInstantiationLevelNotFound,
		},
		{
			name: "ext link without resource",
			req: &models.InstantiateVnfRequest{
				FlavourID:       testFlavourID,
				ExtVirtualLinks: []models.ExtVirtualLinkData{{ID: "ext"}},
			},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.Instantiate(ctx, inst.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := h.c.Instantiate(ctx, "missing", instantiateRequest())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	opOccs, err := h.c.ListOpOccs(ctx)
	require.NoError(t, err)
	assert.Empty(t, opOccs)
}

func TestInstantiate_AlreadyInstantiated(t *testing.T) {
	h := newHarness(t)
	inst := h.instantiated(t)

	_, err := h.c.Instantiate(context.Background(), inst.ID, instantiateRequest())
	assert.ErrorIs(t, err, ErrInstanceInstantiated)
}

func TestOperationsAreExclusivePerInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	entered, release := h.hooks.hold("instantiate_start")
	opOcc, err := h.c.Instantiate(ctx, inst.ID, instantiateRequest())
	require.NoError(t, err)
	<-entered

	_, err = h.c.Instantiate(ctx, inst.ID, instantiateRequest())
	assert.ErrorIs(t, err, ErrOtherOperationInProgress)
	_, err = h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{})
	assert.ErrorIs(t, err, ErrOtherOperationInProgress)
	assert.ErrorIs(t, h.c.DeleteInstance(ctx, inst.ID), ErrOtherOperationInProgress)

	// Another instance is not affected.
	other := h.createInstance(t)
	_, err = h.c.ModifyInfo(ctx, other.ID, &models.VnfInfoModificationRequest{})
	require.NoError(t, err)

	release()
	h.requireState(t, opOcc.ID, models.StateCompleted)
}

func TestConcurrentRequestsStartOneOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.c.Instantiate(ctx, inst.ID, instantiateRequest())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			rejected++
		}()
	}
	wg.Wait()
	h.c.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, models.Instantiated, h.instance(t, inst.ID).InstantiationState)
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	now := time.Now().UTC()
	stale := &models.VnfLcmOpOcc{
		ID:               "op-stale",
		OperationState:   models.StateProcessing,
		StateEnteredTime: now,
		StartTime:        now,
		VnfInstanceID:    inst.ID,
		Operation:        models.OpModifyInfo,
		OperationParams:  map[string]interface{}{},
	}
	require.NoError(t, h.store.CreateOpOcc(ctx, stale))
	require.NoError(t, h.store.PutWork(ctx, &storage.OpOccWork{
		OpOccID:                   stale.ID,
		PreOpInstance:             inst,
		UserScriptErrHandlingData: map[string]interface{}{"alarm": "a-1"},
	}))

	n, err := h.c.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.c.GetOpOcc(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailedTemp, got.OperationState)
	require.NotNil(t, got.Error)
	assert.Equal(t, "process restarted", got.Error.Detail)
	assert.Equal(t, "a-1", got.Error.UserScriptErrHandlingData["alarm"])

	// Nothing left to recover.
	n, err = h.c.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The instance stays blocked until the op-occ is resolved.
	_, err = h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{})
	assert.ErrorIs(t, err, ErrOtherOperationInProgress)

	_, err = h.c.Fail(ctx, stale.ID)
	require.NoError(t, err)
	_, err = h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{})
	assert.NoError(t, err)
	h.c.Wait()
}

func TestInstanceLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.c.CreateInstance(ctx, &models.CreateVnfRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.c.CreateInstance(ctx, &models.CreateVnfRequest{VnfdID: "unknown"})
	assert.ErrorIs(t, err, vnfpkg.ErrPackageNotFound)

	inst := h.createInstance(t)
	assert.Equal(t, models.NotInstantiated, inst.InstantiationState)
	assert.Equal(t, "Company", inst.VnfProvider)
	assert.Equal(t, "Sample VNF", inst.VnfProductName)
	assert.Equal(t, "1.0", inst.VnfSoftwareVersion)

	list, err := h.c.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, h.c.DeleteInstance(ctx, inst.ID))
	_, err = h.c.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []string{"created:" + inst.ID, "deleted:" + inst.ID}, h.publisher.events)
}

func TestDeleteInstance_Instantiated(t *testing.T) {
	h := newHarness(t)
	inst := h.instantiated(t)

	assert.ErrorIs(t, h.c.DeleteInstance(context.Background(), inst.ID), ErrInstanceInstantiated)
}

func TestProblem(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantTitle  string
	}{
		{
			name:       "hook failure",
			err:        &mgmtdriver.ExecutionError{Hook: "instantiate_end", Stderr: "boom"},
			wantStatus: 422,
			wantTitle:  "Mgmt driver execution failed",
		},
		{
			name:       "stack failure",
			err:        infra.ErrStackFailed,
			wantStatus: 422,
			wantTitle:  "Stack operation failed",
		},
		{
			name:       "nfvo error",
			err:        &asyncpoll.StatusError{StatusCode: 403},
			wantStatus: 403,
			wantTitle:  "Forbidden",
		},
		{
			name:       "cancelled",
			err:        ErrCancelled,
			wantStatus: 409,
			wantTitle:  "Operation cancelled",
		},
		{
			name:       "other",
			err:        storage.ErrNotFound,
			wantStatus: 500,
			wantTitle:  "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := problem(tt.err)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.NotEmpty(t, p.Detail)
		})
	}
}
