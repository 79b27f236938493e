package conductor

import (
	"reflect"

	"github.com/piwi3910/vnfm/internal/models"
)

// changedInfoKeys are the instance attributes reported in changedInfo.
var changedInfoKeys = []string{
	"vnfInstanceName",
	"vnfInstanceDescription",
	"vnfdId",
	"vnfProvider",
	"vnfProductName",
	"vnfSoftwareVersion",
	"vnfdVersion",
	"vnfConfigurableProperties",
	"metadata",
	"extensions",
	"vimConnectionInfo",
}

// resourceChanges compares the resources of two instance states. It
// returns nil when nothing changed.
func resourceChanges(pre, post *models.VnfInstance) *models.ResourceChanges {
	before := infoOf(pre)
	after := infoOf(post)
	rc := &models.ResourceChanges{}

	old := make(map[string]models.VnfcResourceInfo, len(before.VnfcResourceInfo))
	for _, v := range before.VnfcResourceInfo {
		old[v.ID] = v
	}
	seen := make(map[string]bool, len(after.VnfcResourceInfo))
	for _, v := range after.VnfcResourceInfo {
		seen[v.ID] = true
		prev, ok := old[v.ID]
		switch {
		case !ok:
			rc.AffectedVnfcs = append(rc.AffectedVnfcs, models.AffectedVnfc{
				ID:                      v.ID,
				VduID:                   v.VduID,
				ChangeType:              models.ChangeAdded,
				ComputeResource:         v.ComputeResource,
				AffectedVnfcCpIDs:       cpIDs(v),
				AddedStorageResourceIDs: v.StorageResourceIDs,
			})
		case prev.ComputeResource.ResourceID != v.ComputeResource.ResourceID:
			rc.AffectedVnfcs = append(rc.AffectedVnfcs, models.AffectedVnfc{
				ID:              v.ID,
				VduID:           v.VduID,
				ChangeType:      models.ChangeModified,
				ComputeResource: v.ComputeResource,
			})
		}
	}
	for _, v := range before.VnfcResourceInfo {
		if seen[v.ID] {
			continue
		}
		rc.AffectedVnfcs = append(rc.AffectedVnfcs, models.AffectedVnfc{
			ID:                        v.ID,
			VduID:                     v.VduID,
			ChangeType:                models.ChangeRemoved,
			ComputeResource:           v.ComputeResource,
			AffectedVnfcCpIDs:         cpIDs(v),
			RemovedStorageResourceIDs: v.StorageResourceIDs,
		})
	}

	oldVLs := make(map[string]models.VnfVirtualLinkResourceInfo, len(before.VnfVirtualLinkResourceInfo))
	for _, vl := range before.VnfVirtualLinkResourceInfo {
		oldVLs[vl.ID] = vl
	}
	for _, vl := range after.VnfVirtualLinkResourceInfo {
		prev, ok := oldVLs[vl.ID]
		delete(oldVLs, vl.ID)
		if ok && prev.NetworkResource.ResourceID == vl.NetworkResource.ResourceID {
			continue
		}
		ct := models.ChangeAdded
		if ok {
			ct = models.ChangeModified
		}
		rc.AffectedVirtualLinks = append(rc.AffectedVirtualLinks, models.AffectedVirtualLink{
			ID:                   vl.ID,
			VnfVirtualLinkDescID: vl.VnfVirtualLinkDescID,
			ChangeType:           ct,
			NetworkResource:      vl.NetworkResource,
		})
	}
	for _, vl := range before.VnfVirtualLinkResourceInfo {
		if _, gone := oldVLs[vl.ID]; gone {
			rc.AffectedVirtualLinks = append(rc.AffectedVirtualLinks, models.AffectedVirtualLink{
				ID:                   vl.ID,
				VnfVirtualLinkDescID: vl.VnfVirtualLinkDescID,
				ChangeType:           models.ChangeRemoved,
				NetworkResource:      vl.NetworkResource,
			})
		}
	}

	oldStorages := make(map[string]models.VirtualStorageResourceInfo, len(before.VirtualStorageResourceInfo))
	for _, s := range before.VirtualStorageResourceInfo {
		oldStorages[s.ID] = s
	}
	for _, s := range after.VirtualStorageResourceInfo {
		prev, ok := oldStorages[s.ID]
		delete(oldStorages, s.ID)
		if ok && prev.StorageResource.ResourceID == s.StorageResource.ResourceID {
			continue
		}
		ct := models.ChangeAdded
		if ok {
			ct = models.ChangeModified
		}
		rc.AffectedVirtualStorages = append(rc.AffectedVirtualStorages, models.AffectedVirtualStorage{
			ID:                   s.ID,
			VirtualStorageDescID: s.VirtualStorageDescID,
			ChangeType:           ct,
			StorageResource:      s.StorageResource,
		})
	}
	for _, s := range before.VirtualStorageResourceInfo {
		if _, gone := oldStorages[s.ID]; gone {
			rc.AffectedVirtualStorages = append(rc.AffectedVirtualStorages, models.AffectedVirtualStorage{
				ID:                   s.ID,
				VirtualStorageDescID: s.VirtualStorageDescID,
				ChangeType:           models.ChangeRemoved,
				StorageResource:      s.StorageResource,
			})
		}
	}

	if rc.IsEmpty() {
		return nil
	}
	return rc
}

// changedInfo returns the top-level instance attributes that differ,
// with their new values. Credentials are stripped.
func changedInfo(pre, post *models.VnfInstance) (map[string]interface{}, error) {
	before, err := models.ToParams(pre.Redacted())
	if err != nil {
		return nil, err
	}
	after, err := models.ToParams(post.Redacted())
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	for _, key := range changedInfoKeys {
		if !reflect.DeepEqual(before[key], after[key]) {
			out[key] = after[key]
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func infoOf(inst *models.VnfInstance) *models.InstantiatedVnfInfo {
	if inst == nil || inst.InstantiatedVnfInfo == nil {
		return &models.InstantiatedVnfInfo{}
	}
	return inst.InstantiatedVnfInfo
}

func cpIDs(v models.VnfcResourceInfo) []string {
	if len(v.VnfcCpInfo) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.VnfcCpInfo))
	for _, cp := range v.VnfcCpInfo {
		out = append(out, cp.ID)
	}
	return out
}
