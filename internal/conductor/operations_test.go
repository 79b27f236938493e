package conductor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func computeIDs(inst *models.VnfInstance) map[string]string {
	out := make(map[string]string)
	for _, v := range inst.InstantiatedVnfInfo.VnfcResourceInfo {
		out[v.ID] = v.ComputeResource.ResourceID
	}
	return out
}

func storageIDs(inst *models.VnfInstance) map[string]string {
	out := make(map[string]string)
	for _, s := range inst.InstantiatedVnfInfo.VirtualStorageResourceInfo {
		out[s.ID] = s.StorageResource.ResourceID
	}
	return out
}

// liveComputeIDs returns the physical IDs of the compute resources the
// driver holds for an instance, keyed by VNFC ID.
func (h *harness) liveComputeIDs(t *testing.T, instanceID string) map[string]string {
	t.Helper()
	ids, err := h.computeResources(instanceID)
	require.NoError(t, err)
	return ids
}

func (h *harness) computeResources(instanceID string) (map[string]string, error) {
	res, err := h.driver.Resources(context.Background(), nil, infra.StackName(instanceID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, r := range res {
		if r.Kind == infra.KindCompute {
			out[r.Name] = r.PhysicalID
		}
	}
	return out, nil
}

// fakeCoordinator answers coordinations with the queued results, then
// with CONTINUE. onRequest runs before each answer.
type fakeCoordinator struct {
	mu        sync.Mutex
	results   []models.CoordinationResultType
	endpoints []string
	actions   []string
	vnfcs     []string
	onRequest func(vnfcID string)
}

func (f *fakeCoordinator) CreateCoordination(_ context.Context, endpoint string, req *models.CoordinationRequest) (*models.CoordinationResult, error) {
	vnfcID, _ := req.InputParams["vnfcInstanceId"].(string)
	if f.onRequest != nil {
		f.onRequest(vnfcID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, endpoint)
	f.actions = append(f.actions, req.CoordinationActionName)
	f.vnfcs = append(f.vnfcs, vnfcID)

	result := models.CoordinationContinue
	if len(f.results) > 0 {
		result, f.results = f.results[0], f.results[1:]
	}
	return &models.CoordinationResult{
		ID:                     fmt.Sprintf("coord-%d", len(f.vnfcs)),
		CoordinationResult:     result,
		VnfInstanceID:          req.VnfInstanceID,
		VnfLcmOpOccID:          req.VnfLcmOpOccID,
		LcmOperationType:       req.LcmOperationType,
		CoordinationActionName: req.CoordinationActionName,
	}, nil
}

func (f *fakeCoordinator) asked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.vnfcs...)
}

const testCoordEndpoint = "https://coord.example.com"

func coordinatedUpgrade() *models.ChangeCurrentVnfPkgRequest {
	return &models.ChangeCurrentVnfPkgRequest{
		VnfdID: testVnfdIDv2,
		AdditionalParams: map[string]interface{}{
			"upgrade_type": "RollingUpdate",
			"vdu_params": []interface{}{map[string]interface{}{
				"vdu_id": "VDU1",
				"coordination": map[string]interface{}{
					"endpoint":   testCoordEndpoint,
					"actionName": "drain",
				},
			}},
		},
	}
}

func vnfcIDsOf(inst *models.VnfInstance, vduID string) []string {
	var out []string
	for _, v := range inst.InstantiatedVnfInfo.VnfcsOf(vduID) {
		out = append(out, v.ID)
	}
	return out
}

func TestScale_OutAndIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)
	before := computeIDs(inst)

	out, err := h.c.Scale(ctx, inst.ID, &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: testAspectID})
	require.NoError(t, err)
	done := h.requireState(t, out.ID, models.StateCompleted)
	require.NotNil(t, done.ResourceChanges)
	require.Len(t, done.ResourceChanges.AffectedVnfcs, 1)
	added := done.ResourceChanges.AffectedVnfcs[0]
	assert.Equal(t, models.ChangeAdded, added.ChangeType)
	assert.Equal(t, "VDU1", added.VduID)

	scaled := h.instance(t, inst.ID)
	info := scaled.InstantiatedVnfInfo
	assert.Len(t, info.VnfcsOf("VDU1"), 3)
	assert.Len(t, info.VnfcsOf("VDU2"), 1)
	level, _ := info.ScaleLevel(testAspectID)
	assert.Equal(t, 2, level)

	// Existing VNFCs keep their resources.
	after := computeIDs(scaled)
	for id, rid := range before {
		assert.Equal(t, rid, after[id])
	}

	// SCALE_IN removes the newest VNFC.
	in, err := h.c.Scale(ctx, inst.ID, &models.ScaleVnfRequest{Type: models.ScaleIn, AspectID: testAspectID})
	require.NoError(t, err)
	done = h.requireState(t, in.ID, models.StateCompleted)
	require.Len(t, done.ResourceChanges.AffectedVnfcs, 1)
	removed := done.ResourceChanges.AffectedVnfcs[0]
	assert.Equal(t, models.ChangeRemoved, removed.ChangeType)
	assert.Equal(t, added.ID, removed.ID)

	final := h.instance(t, inst.ID)
	assert.Equal(t, before, computeIDs(final))
	level, _ = final.InstantiatedVnfInfo.ScaleLevel(testAspectID)
	assert.Equal(t, 1, level)

	_, err = h.c.infra.ResourceInfo(ctx, nil, infra.StackName(inst.ID), added.ID)
	assert.ErrorIs(t, err, infra.ErrResourceNotFound)
}

func TestScale_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	tests := []struct {
		name    string
		req     *models.ScaleVnfRequest
		wantErr error
	}{
		{
			name:    "unknown aspect",
			req:     &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: "nope"},
			wantErr: vnfpkg.ErrAspectNotFound,
		},
		{
			name:    "bad type",
			req:     &models.ScaleVnfRequest{Type: "SCALE_UP", AspectID: testAspectID},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "zero steps",
			req:     &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: testAspectID, NumberOfSteps: intPtr(0)},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "above max level",
			req:     &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: testAspectID, NumberOfSteps: intPtr(2)},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "below zero",
			req:     &models.ScaleVnfRequest{Type: models.ScaleIn, AspectID: testAspectID, NumberOfSteps: intPtr(2)},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.Scale(ctx, inst.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	created := h.createInstance(t)
	_, err := h.c.Scale(ctx, created.ID, &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: testAspectID})
	assert.ErrorIs(t, err, ErrInstanceNotInstantiated)
}

func TestScale_OutRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	h.hooks.failWith("scale_end", nil)
	opOcc, err := h.c.Scale(ctx, inst.ID, &models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: testAspectID})
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateFailedTemp)

	addedID := newVnfcID(opOcc.ID, "VDU1", 0)
	_, err = h.c.infra.ResourceInfo(ctx, nil, infra.StackName(inst.ID), addedID)
	require.NoError(t, err)

	_, err = h.c.Rollback(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateRolledBack)

	_, err = h.c.infra.ResourceInfo(ctx, nil, infra.StackName(inst.ID), addedID)
	assert.ErrorIs(t, err, infra.ErrResourceNotFound)

	got := h.instance(t, inst.ID)
	assert.Len(t, got.InstantiatedVnfInfo.VnfcsOf("VDU1"), 2)
	assert.Equal(t, computeIDs(inst), computeIDs(got))
	level, _ := got.InstantiatedVnfInfo.ScaleLevel(testAspectID)
	assert.Equal(t, 1, level)
}

func TestScale_InHasNoRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	h.hooks.failWith("scale_end", nil)
	opOcc, err := h.c.Scale(ctx, inst.ID, &models.ScaleVnfRequest{Type: models.ScaleIn, AspectID: testAspectID})
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateFailedTemp)

	_, err = h.c.Rollback(ctx, opOcc.ID)
	assert.ErrorIs(t, err, ErrRollbackNotSupported)

	h.hooks.clear("scale_end")
	_, err = h.c.Retry(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Len(t, h.instance(t, inst.ID).InstantiatedVnfInfo.VnfcsOf("VDU1"), 1)
}

func TestHeal_SingleVnfc(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)
	info := inst.InstantiatedVnfInfo

	var target models.VnfcInfo
	for _, v := range info.VnfcInfo {
		if v.VduID == "VDU1" {
			target = v
			break
		}
	}
	require.NotEmpty(t, target.ID)

	opOcc, err := h.c.Heal(ctx, inst.ID, &models.HealVnfRequest{VnfcInstanceID: []string{target.ID}})
	require.NoError(t, err)
	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	require.NotNil(t, done.ResourceChanges)
	require.Len(t, done.ResourceChanges.AffectedVnfcs, 1)
	assert.Equal(t, models.ChangeModified, done.ResourceChanges.AffectedVnfcs[0].ChangeType)
	assert.Equal(t, target.VnfcResourceInfoID, done.ResourceChanges.AffectedVnfcs[0].ID)

	got := h.instance(t, inst.ID)
	before, after := computeIDs(inst), computeIDs(got)
	for id := range before {
		if id == target.VnfcResourceInfoID {
			assert.NotEqual(t, before[id], after[id])
			continue
		}
		assert.Equal(t, before[id], after[id])
	}
	assert.Equal(t, storageIDs(inst), storageIDs(got))
}

func TestHeal_AllRecreatesStorage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	opOcc, err := h.c.Heal(ctx, inst.ID, &models.HealVnfRequest{
		AdditionalParams: map[string]interface{}{"all": true},
	})
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateCompleted)

	got := h.instance(t, inst.ID)
	before, after := computeIDs(inst), computeIDs(got)
	for id := range before {
		assert.NotEqual(t, before[id], after[id])
	}
	beforeStorage, afterStorage := storageIDs(inst), storageIDs(got)
	for id := range beforeStorage {
		assert.NotEqual(t, beforeStorage[id], afterStorage[id])
	}
	assert.NotEqual(t,
		inst.InstantiatedVnfInfo.VnfVirtualLinkResourceInfo[0].NetworkResource.ResourceID,
		got.InstantiatedVnfInfo.VnfVirtualLinkResourceInfo[0].NetworkResource.ResourceID,
	)
}

func TestHeal_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	_, err := h.c.Heal(ctx, inst.ID, &models.HealVnfRequest{VnfcInstanceID: []string{"nope"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.c.Heal(ctx, inst.ID, &models.HealVnfRequest{AdditionalParams: map[string]interface{}{"all": "yes"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAutoHeal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)
	target := inst.InstantiatedVnfInfo.VnfcInfo[0]

	opOcc, err := h.c.AutoHeal(ctx, inst.ID, []string{target.ID})
	require.NoError(t, err)
	assert.True(t, opOcc.IsAutomaticInvocation)
	assert.Equal(t, models.OpHeal, opOcc.Operation)

	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.True(t, done.IsAutomaticInvocation)

	rec, err := h.store.GetGrant(ctx, opOcc.ID)
	require.NoError(t, err)
	assert.True(t, rec.Request.IsAutomaticInvocation)
	require.Len(t, rec.Request.UpdateResources, 1)
	assert.Equal(t, target.VnfcResourceInfoID, rec.Request.UpdateResources[0].ID)
}

func TestChangeExtConn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	_, err := h.c.ChangeExtConn(ctx, inst.ID, &models.ChangeExtVnfConnectivityRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	opOcc, err := h.c.ChangeExtConn(ctx, inst.ID, &models.ChangeExtVnfConnectivityRequest{
		ExtVirtualLinks: []models.ExtVirtualLinkData{{
			ID:         "ext-vl-2",
			ResourceID: "net-external-2",
			ExtCps:     []models.VnfExtCpData{{CpdID: "VDU1_CP2"}},
		}},
	})
	require.NoError(t, err)
	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Len(t, done.ChangedExtConnectivity, 2)

	rec, err := h.store.GetGrant(ctx, opOcc.ID)
	require.NoError(t, err)
	require.Len(t, rec.Request.UpdateResources, 2)
	for _, r := range rec.Request.UpdateResources {
		assert.Equal(t, models.ResourceLinkPort, r.Type)
		assert.Equal(t, "VDU1_CP2", r.ResourceTemplateID)
	}

	info := h.instance(t, inst.ID).InstantiatedVnfInfo
	evl := extLinkOf(info, "VDU1_CP2")
	require.NotNil(t, evl)
	assert.Equal(t, "ext-vl-2", evl.ID)
	assert.Equal(t, "net-external-2", evl.ResourceHandle.ResourceID)
	assert.Len(t, evl.ExtLinkPorts, 2)
}

func TestChangeVnfPkg(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, &models.ChangeCurrentVnfPkgRequest{
		VnfdID:           testVnfdIDv2,
		AdditionalParams: map[string]interface{}{"upgrade_type": "RollingUpdate"},
		Extensions:       map[string]interface{}{"release": "2"},
	})
	require.NoError(t, err)
	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	require.NotNil(t, done.ChangedInfo)
	assert.Equal(t, testVnfdIDv2, done.ChangedInfo["vnfdId"])
	assert.Equal(t, "2.0", done.ChangedInfo["vnfSoftwareVersion"])

	got := h.instance(t, inst.ID)
	assert.Equal(t, testVnfdIDv2, got.VnfdID)
	assert.Equal(t, "2.0", got.VnfSoftwareVersion)
	assert.Equal(t, "2", got.Extensions["release"])

	before, after := computeIDs(inst), computeIDs(got)
	require.Len(t, after, len(before))
	for id := range before {
		assert.NotEqual(t, before[id], after[id], "vnfc %s was not replaced", id)
	}
	assert.Equal(t, storageIDs(inst), storageIDs(got))
	for _, v := range got.InstantiatedVnfInfo.VnfcResourceInfo {
		assert.Equal(t, "cirros-2", v.Metadata[metaImage])
	}
	for _, s := range got.InstantiatedVnfInfo.ScaleStatus {
		assert.Equal(t, testVnfdIDv2, s.VnfdID)
	}

	rec, err := h.store.GetGrant(ctx, opOcc.ID)
	require.NoError(t, err)
	assert.Equal(t, testVnfdIDv2, rec.Request.DstVnfdID)
	assert.Len(t, rec.Request.UpdateResources, 3)
}

func TestChangeVnfPkg_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	tests := []struct {
		name    string
		req     *models.ChangeCurrentVnfPkgRequest
		wantErr error
	}{
		{
			name:    "missing params",
			req:     &models.ChangeCurrentVnfPkgRequest{VnfdID: testVnfdIDv2},
			wantErr: ErrInvalidRequest,
		},
		{
			name: "unsupported upgrade type",
			req: &models.ChangeCurrentVnfPkgRequest{
				VnfdID:           testVnfdIDv2,
				AdditionalParams: map[string]interface{}{"upgrade_type": "BlueGreen"},
			},
			wantErr: ErrInvalidRequest,
		},
		{
			name: "unknown package",
			req: &models.ChangeCurrentVnfPkgRequest{
				VnfdID:           "vnfd-9",
				AdditionalParams: map[string]interface{}{"upgrade_type": "RollingUpdate"},
			},
			wantErr: vnfpkg.ErrPackageNotFound,
		},
		{
			name: "unknown vdu",
			req: &models.ChangeCurrentVnfPkgRequest{
				VnfdID: testVnfdIDv2,
				AdditionalParams: map[string]interface{}{
					"upgrade_type": "RollingUpdate",
					"vdu_params":   []interface{}{map[string]interface{}{"vdu_id": "VDU9"}},
				},
			},
			wantErr: ErrInvalidRequest,
		},
		{
			name: "unsupported vnfc param",
			req: &models.ChangeCurrentVnfPkgRequest{
				VnfdID: testVnfdIDv2,
				AdditionalParams: map[string]interface{}{
					"upgrade_type": "RollingUpdate",
					"vdu_params": []interface{}{map[string]interface{}{
						"vdu_id":         "VDU1",
						"new_vnfc_param": map[string]interface{}{"ssh_key": "x"},
					}},
				},
			},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.ChangeVnfPkg(ctx, inst.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChangeVnfPkg_Rollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	h.hooks.failWith("change_current_package_end", nil)
	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, &models.ChangeCurrentVnfPkgRequest{
		VnfdID: testVnfdIDv2,
		AdditionalParams: map[string]interface{}{
			"upgrade_type": "RollingUpdate",
			"vdu_params":   []interface{}{map[string]interface{}{"vdu_id": "VDU1"}},
		},
	})
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateFailedTemp)

	work, err := h.store.GetWork(ctx, opOcc.ID)
	require.NoError(t, err)
	updated, _ := work.Progress[progressUpdatedVnfcs].([]interface{})
	assert.Len(t, updated, 2)

	_, err = h.c.Rollback(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateRolledBack)

	got := h.instance(t, inst.ID)
	assert.Equal(t, testVnfdID, got.VnfdID)
	assert.Equal(t, "1.0", got.VnfSoftwareVersion)
	for _, v := range got.InstantiatedVnfInfo.VnfcResourceInfo {
		assert.Equal(t, "cirros-1", v.Metadata[metaImage])
	}

	// The recreated VNFCs are recorded with the IDs the VIM gave them.
	assert.Equal(t, h.liveComputeIDs(t, inst.ID), computeIDs(got))
	before := computeIDs(inst)
	for _, id := range vnfcIDsOf(inst, "VDU1") {
		assert.NotEqual(t, before[id], computeIDs(got)[id], "vnfc %s was not recreated", id)
	}
	for _, id := range vnfcIDsOf(inst, "VDU2") {
		assert.Equal(t, before[id], computeIDs(got)[id])
	}
}

func TestChangeVnfPkg_CoordinationContinue(t *testing.T) {
	coord := &fakeCoordinator{}
	h := newHarness(t, func(cfg *Config) { cfg.Coordinator = coord })
	ctx := context.Background()
	inst := h.instantiated(t)
	before := computeIDs(inst)
	vdu1 := vnfcIDsOf(inst, "VDU1")
	require.Len(t, vdu1, 2)

	// Each coordination happens after its own VNFC was replaced and
	// before the next one is touched.
	var mu sync.Mutex
	replacedAtAsk := make(map[string][]string)
	coord.onRequest = func(vnfcID string) {
		live, _ := h.computeResources(inst.ID)
		var replaced []string
		for _, id := range vdu1 {
			if live[id] != before[id] {
				replaced = append(replaced, id)
			}
		}
		mu.Lock()
		replacedAtAsk[vnfcID] = replaced
		mu.Unlock()
	}

	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, coordinatedUpgrade())
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateCompleted)

	assert.Equal(t, vdu1, coord.asked())
	assert.Equal(t, []string{testCoordEndpoint, testCoordEndpoint}, coord.endpoints)
	assert.Equal(t, []string{"drain", "drain"}, coord.actions)
	mu.Lock()
	assert.Equal(t, []string{vdu1[0]}, replacedAtAsk[vdu1[0]])
	assert.Equal(t, vdu1, replacedAtAsk[vdu1[1]])
	mu.Unlock()

	got := h.instance(t, inst.ID)
	assert.Equal(t, testVnfdIDv2, got.VnfdID)
	assert.Equal(t, h.liveComputeIDs(t, inst.ID), computeIDs(got))
}

func TestChangeVnfPkg_CoordinationAbort(t *testing.T) {
	coord := &fakeCoordinator{results: []models.CoordinationResultType{models.CoordinationAbort}}
	h := newHarness(t, func(cfg *Config) { cfg.Coordinator = coord })
	ctx := context.Background()
	inst := h.instantiated(t)
	before := computeIDs(inst)
	vdu1 := vnfcIDsOf(inst, "VDU1")

	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, coordinatedUpgrade())
	require.NoError(t, err)
	failed := h.requireState(t, opOcc.ID, models.StateFailedTemp)
	require.NotNil(t, failed.Error)
	assert.Equal(t, 422, failed.Error.Status)
	assert.Equal(t, "Coordination aborted", failed.Error.Title)
	assert.Equal(t, []string{vdu1[0]}, coord.asked())

	// The first VNFC was replaced before the coordinator stopped the update.
	work, err := h.store.GetWork(ctx, opOcc.ID)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{vdu1[0]}, work.Progress[progressUpdatedVnfcs])
	assert.Nil(t, work.Progress[progressCoordinatedVnfcs])
	live := h.liveComputeIDs(t, inst.ID)
	assert.NotEqual(t, before[vdu1[0]], live[vdu1[0]])
	assert.Equal(t, before[vdu1[1]], live[vdu1[1]])
	firstReplacement := live[vdu1[0]]

	// Retry asks again about the aborted VNFC without replacing it twice.
	_, err = h.c.Retry(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Equal(t, []string{vdu1[0], vdu1[0], vdu1[1]}, coord.asked())

	got := h.instance(t, inst.ID)
	assert.Equal(t, firstReplacement, computeIDs(got)[vdu1[0]])
	assert.NotEqual(t, before[vdu1[1]], computeIDs(got)[vdu1[1]])
	assert.Equal(t, h.liveComputeIDs(t, inst.ID), computeIDs(got))
}

func TestChangeVnfPkg_CoordinationAbortRollback(t *testing.T) {
	coord := &fakeCoordinator{results: []models.CoordinationResultType{models.CoordinationAbort}}
	h := newHarness(t, func(cfg *Config) { cfg.Coordinator = coord })
	ctx := context.Background()
	inst := h.instantiated(t)
	before := computeIDs(inst)
	vdu1 := vnfcIDsOf(inst, "VDU1")

	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, coordinatedUpgrade())
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateFailedTemp)

	_, err = h.c.Rollback(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateRolledBack)

	got := h.instance(t, inst.ID)
	assert.Equal(t, testVnfdID, got.VnfdID)
	assert.Equal(t, h.liveComputeIDs(t, inst.ID), computeIDs(got))
	assert.NotEqual(t, before[vdu1[0]], computeIDs(got)[vdu1[0]])
	assert.Equal(t, before[vdu1[1]], computeIDs(got)[vdu1[1]])
}

func TestChangeVnfPkg_CoordinationWithoutCoordinator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)
	vdu1 := vnfcIDsOf(inst, "VDU1")

	opOcc, err := h.c.ChangeVnfPkg(ctx, inst.ID, coordinatedUpgrade())
	require.NoError(t, err)
	failed := h.requireState(t, opOcc.ID, models.StateFailedTemp)
	require.NotNil(t, failed.Error)
	assert.Equal(t, 500, failed.Error.Status)
	assert.Contains(t, failed.Error.Detail, "no coordinator is configured")

	work, err := h.store.GetWork(ctx, opOcc.ID)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{vdu1[0]}, work.Progress[progressUpdatedVnfcs])
	assert.Equal(t, testVnfdID, h.instance(t, inst.ID).VnfdID)
}

func TestModifyInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	opOcc, err := h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{
		VnfInstanceName: strPtr("vnf-b"),
		Metadata:        map[string]interface{}{"tier": nil, "site": "dc1"},
	})
	require.NoError(t, err)
	done := h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Nil(t, done.ResourceChanges)
	require.NotNil(t, done.ChangedInfo)
	assert.Equal(t, "vnf-b", done.ChangedInfo["vnfInstanceName"])
	assert.Contains(t, done.ChangedInfo, "metadata")
	assert.NotContains(t, done.ChangedInfo, "vnfdId")

	got := h.instance(t, inst.ID)
	assert.Equal(t, "vnf-b", got.VnfInstanceName)
	assert.Equal(t, map[string]interface{}{"owner": "ops", "site": "dc1"}, got.Metadata)
	assert.Empty(t, h.hooks.called(), "no hooks without a flavour")

	// vnfdId switches the product attributes.
	opOcc, err = h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{VnfdID: testVnfdIDv2})
	require.NoError(t, err)
	done = h.requireState(t, opOcc.ID, models.StateCompleted)
	assert.Equal(t, testVnfdIDv2, done.ChangedInfo["vnfdId"])
	assert.Equal(t, "2.0", h.instance(t, inst.ID).VnfSoftwareVersion)
}

func TestModifyInfo_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.createInstance(t)

	_, err := h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{
		VimConnectionInfo: map[string]models.VimConnectionInfo{"vim1": {VimType: "mock"}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{VnfdID: "vnfd-9"})
	assert.ErrorIs(t, err, vnfpkg.ErrPackageNotFound)
}

func TestModifyInfo_Rollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.instantiated(t)

	h.hooks.failWith("modify_information_end", nil)
	opOcc, err := h.c.ModifyInfo(ctx, inst.ID, &models.VnfInfoModificationRequest{
		VnfInstanceName: strPtr("renamed"),
	})
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateFailedTemp)

	_, err = h.c.Rollback(ctx, opOcc.ID)
	require.NoError(t, err)
	h.requireState(t, opOcc.ID, models.StateRolledBack)
	assert.Equal(t, inst.VnfInstanceName, h.instance(t, inst.ID).VnfInstanceName)
}
