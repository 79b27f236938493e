package conductor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
)

func TestNewVnfcID(t *testing.T) {
	a := newVnfcID("op-1", "VDU1", 0)
	assert.Equal(t, a, newVnfcID("op-1", "VDU1", 0))
	assert.NotEqual(t, a, newVnfcID("op-1", "VDU1", 1))
	assert.NotEqual(t, a, newVnfcID("op-2", "VDU1", 0))
	assert.NotEqual(t, a, newVnfcID("op-1", "VDU2", 0))
}

func TestAddAndRemoveVnfcs(t *testing.T) {
	vnfd := testVNFD(testVnfdID, "1.0", "cirros")
	vdu := vnfd.Flavours[testFlavourID].Vdus["VDU1"]
	opOcc := &models.VnfLcmOpOcc{ID: "op-1", StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	info := &models.InstantiatedVnfInfo{}
	v0 := addVnfc(info, opOcc, vdu, 0)
	v1 := addVnfc(info, opOcc, vdu, 1)

	require.Len(t, info.VnfcResourceInfo, 2)
	require.Len(t, info.VirtualStorageResourceInfo, 2)
	assert.Equal(t, []string{storageID(v0.ID, "VirtualStorage")}, v0.StorageResourceIDs)
	require.Len(t, v0.VnfcCpInfo, 2)
	assert.Equal(t, infra.PortName(v0.ID, "VDU1_CP1"), v0.VnfcCpInfo[0].ID)
	assert.Equal(t, "VDU1_CP2", v0.VnfcCpInfo[1].CpdID)

	removeVnfcs(info, map[string]bool{v0.ID: true})
	require.Len(t, info.VnfcResourceInfo, 1)
	assert.Equal(t, v1.ID, info.VnfcResourceInfo[0].ID)
	require.Len(t, info.VirtualStorageResourceInfo, 1)
	assert.Equal(t, storageID(v1.ID, "VirtualStorage"), info.VirtualStorageResourceInfo[0].ID)
}

func TestNewestVnfcs(t *testing.T) {
	info := &models.InstantiatedVnfInfo{
		VnfcResourceInfo: []models.VnfcResourceInfo{
			{ID: "a", VduID: "VDU1", Metadata: map[string]interface{}{metaCreationTime: "2026-01-01T00:00:01Z"}},
			{ID: "b", VduID: "VDU1", Metadata: map[string]interface{}{metaCreationTime: "2026-01-01T00:00:03Z"}},
			{ID: "c", VduID: "VDU2", Metadata: map[string]interface{}{metaCreationTime: "2026-01-01T00:00:09Z"}},
			{ID: "d", VduID: "VDU1", Metadata: map[string]interface{}{metaCreationTime: "2026-01-01T00:00:03Z"}},
		},
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{name: "one", n: 1, want: []string{"d"}},
		{name: "ties broken by position", n: 2, want: []string{"d", "b"}},
		{name: "all", n: 3, want: []string{"d", "b", "a"}},
		{name: "more than exist", n: 5, want: []string{"d", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, v := range newestVnfcs(info, "VDU1", tt.n) {
				got = append(got, v.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindExtLinks(t *testing.T) {
	info := &models.InstantiatedVnfInfo{}
	bindExtLinks(info, []models.ExtVirtualLinkData{{
		ID:         "ext-1",
		ResourceID: "net-1",
		ExtCps:     []models.VnfExtCpData{{CpdID: "CP1"}, {CpdID: "CP2"}},
	}})
	require.Len(t, info.ExtVirtualLinkInfo, 1)
	require.Len(t, info.ExtCpInfo, 2)
	assert.Equal(t, "ext-1", extLinkOf(info, "CP2").ID)

	// Rebinding a CP moves it; relinking an id replaces the link.
	bindExtLinks(info, []models.ExtVirtualLinkData{
		{ID: "ext-2", ResourceID: "net-2", ExtCps: []models.VnfExtCpData{{CpdID: "CP2"}}},
		{ID: "ext-1", ResourceID: "net-1b"},
	})
	assert.Len(t, info.ExtVirtualLinkInfo, 2)
	assert.Len(t, info.ExtCpInfo, 2)
	assert.Equal(t, "ext-2", extLinkOf(info, "CP2").ID)
	assert.Equal(t, "net-1b", extLinkOf(info, "CP1").ResourceHandle.ResourceID)
	assert.Nil(t, extLinkOf(info, "CP3"))
}

func TestFillResources_MissingResource(t *testing.T) {
	info := &models.InstantiatedVnfInfo{
		VnfcResourceInfo: []models.VnfcResourceInfo{{ID: "vnfc-1", VduID: "VDU1"}},
	}
	err := fillResources(info, map[string]infra.Resource{}, "")
	assert.ErrorIs(t, err, infra.ErrResourceNotFound)

	err = fillResources(info, map[string]infra.Resource{"vnfc-1": {Name: "vnfc-1", PhysicalID: "srv-1", Type: "OS::Nova::Server"}}, "vim1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", info.VnfcResourceInfo[0].ComputeResource.ResourceID)
	assert.Equal(t, "vim1", info.VnfcResourceInfo[0].ComputeResource.VimConnectionID)
	require.Len(t, info.VnfcInfo, 1)
	assert.Equal(t, "VDU1-vnfc-1", info.VnfcInfo[0].ID)
}

func TestSelectVim(t *testing.T) {
	vim, id := selectVim(&models.VnfInstance{})
	assert.Nil(t, vim)
	assert.Empty(t, id)

	vim, id = selectVim(&models.VnfInstance{VimConnectionInfo: map[string]models.VimConnectionInfo{
		"vim-b": {VimType: "kubernetes"},
		"vim-a": {VimType: "mock"},
	}})
	require.NotNil(t, vim)
	assert.Equal(t, "vim-a", id)
	assert.Equal(t, "mock", vim.VimType)
}

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name   string
		target map[string]interface{}
		patch  map[string]interface{}
		want   map[string]interface{}
	}{
		{
			name:   "empty patch keeps target",
			target: map[string]interface{}{"a": "1"},
			want:   map[string]interface{}{"a": "1"},
		},
		{
			name:  "nil target",
			patch: map[string]interface{}{"a": "1"},
			want:  map[string]interface{}{"a": "1"},
		},
		{
			name:   "null deletes",
			target: map[string]interface{}{"a": "1", "b": "2"},
			patch:  map[string]interface{}{"a": nil},
			want:   map[string]interface{}{"b": "2"},
		},
		{
			name:   "nested merge",
			target: map[string]interface{}{"n": map[string]interface{}{"x": "1", "y": "2"}},
			patch:  map[string]interface{}{"n": map[string]interface{}{"y": "3"}},
			want:   map[string]interface{}{"n": map[string]interface{}{"x": "1", "y": "3"}},
		},
		{
			name:   "everything deleted",
			target: map[string]interface{}{"a": "1"},
			patch:  map[string]interface{}{"a": nil},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mergePatch(tt.target, tt.patch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChangedInfo_RedactsCredentials(t *testing.T) {
	pre := &models.VnfInstance{ID: "i", VnfdID: "v"}
	post := pre.DeepCopy()
	post.VimConnectionInfo = map[string]models.VimConnectionInfo{
		"vim1": {VimType: "mock", AccessInfo: map[string]interface{}{"username": "u", "password": "secret"}},
	}

	changed, err := changedInfo(pre, post)
	require.NoError(t, err)
	require.Contains(t, changed, "vimConnectionInfo")
	assert.NotContains(t, changed, "vnfdId")

	vims := changed["vimConnectionInfo"].(map[string]interface{})
	vim := vims["vim1"].(map[string]interface{})
	if access, ok := vim["accessInfo"].(map[string]interface{}); ok {
		assert.NotContains(t, access, "password")
	}

	same, err := changedInfo(pre, pre.DeepCopy())
	require.NoError(t, err)
	assert.Nil(t, same)
}
