package conductor

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// vnfcNamespace seeds VNFC ids. Ids derive from the op-occ id so that a
// retried operation plans the same VNFCs again.
var vnfcNamespace = uuid.MustParse("3f0d6a8e-7f4b-4c55-9d6e-2b1c0a9e5d47")

// VNFC metadata keys written by the planner.
const (
	metaCreationTime = "creation_time"
	metaImage        = "image"
	metaFlavour      = "flavour"
	metaZone         = "zone"
)

const vnfcStateStarted = "STARTED"

// External CP binding keys inside instantiatedVnfInfo.extCpInfo.
const (
	extCpID      = "id"
	extCpCpdID   = "cpdId"
	extCpLinkRef = "extVirtualLinkId"
)

func newVnfcID(opOccID, vduID string, n int) string {
	return uuid.NewSHA1(vnfcNamespace, []byte(fmt.Sprintf("%s/%s/%d", opOccID, vduID, n))).String()
}

func storageID(vnfcID, descID string) string {
	return vnfcID + "-" + descID
}

// addVnfc appends a new VNFC of vdu with its storages to info.
func addVnfc(info *models.InstantiatedVnfInfo, opOcc *models.VnfLcmOpOcc, vdu *vnfpkg.Vdu, n int) models.VnfcResourceInfo {
	v := models.VnfcResourceInfo{
		ID:    newVnfcID(opOcc.ID, vdu.ID, n),
		VduID: vdu.ID,
		Metadata: map[string]interface{}{
			metaCreationTime: opOcc.StartTime.UTC().Format(time.RFC3339Nano),
		},
	}
	for _, desc := range vdu.Storages {
		sid := storageID(v.ID, desc)
		v.StorageResourceIDs = append(v.StorageResourceIDs, sid)
		info.VirtualStorageResourceInfo = append(info.VirtualStorageResourceInfo, models.VirtualStorageResourceInfo{
			ID:                   sid,
			VirtualStorageDescID: desc,
		})
	}
	for _, cpd := range vdu.CpIDs() {
		v.VnfcCpInfo = append(v.VnfcCpInfo, models.VnfcCpInfo{
			ID:    infra.PortName(v.ID, cpd),
			CpdID: cpd,
		})
	}
	info.VnfcResourceInfo = append(info.VnfcResourceInfo, v)
	return v
}

// removeVnfcs drops the VNFCs and their storages from info.
func removeVnfcs(info *models.InstantiatedVnfInfo, ids map[string]bool) {
	storages := make(map[string]bool)
	kept := info.VnfcResourceInfo[:0]
	for _, v := range info.VnfcResourceInfo {
		if ids[v.ID] {
			for _, s := range v.StorageResourceIDs {
				storages[s] = true
			}
			continue
		}
		kept = append(kept, v)
	}
	info.VnfcResourceInfo = kept

	keptStorage := info.VirtualStorageResourceInfo[:0]
	for _, s := range info.VirtualStorageResourceInfo {
		if !storages[s.ID] {
			keptStorage = append(keptStorage, s)
		}
	}
	info.VirtualStorageResourceInfo = keptStorage
}

// newestVnfcs returns the n newest VNFCs of a VDU. Ties on creation time
// are broken by position, later first.
func newestVnfcs(info *models.InstantiatedVnfInfo, vduID string, n int) []models.VnfcResourceInfo {
	type entry struct {
		vnfc    models.VnfcResourceInfo
		created string
		index   int
	}
	var list []entry
	for idx, v := range info.VnfcResourceInfo {
		if v.VduID != vduID {
			continue
		}
		created, _ := v.Metadata[metaCreationTime].(string)
		list = append(list, entry{vnfc: v, created: created, index: idx})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].created != list[j].created {
			return list[i].created > list[j].created
		}
		return list[i].index > list[j].index
	})
	if n > len(list) {
		n = len(list)
	}
	out := make([]models.VnfcResourceInfo, 0, n)
	for _, e := range list[:n] {
		out = append(out, e.vnfc)
	}
	return out
}

// bindExtLinks records the external virtual links of a request and the
// external CPs they serve. Links are merged by id.
func bindExtLinks(info *models.InstantiatedVnfInfo, links []models.ExtVirtualLinkData) {
	for _, l := range links {
		evl := models.ExtVirtualLinkInfo{
			ID: l.ID,
			ResourceHandle: models.ResourceHandle{
				VimConnectionID:    l.VimConnectionID,
				ResourceProviderID: l.ResourceProviderID,
				ResourceID:         l.ResourceID,
			},
		}
		replaced := false
		for i := range info.ExtVirtualLinkInfo {
			if info.ExtVirtualLinkInfo[i].ID == l.ID {
				info.ExtVirtualLinkInfo[i] = evl
				replaced = true
				break
			}
		}
		if !replaced {
			info.ExtVirtualLinkInfo = append(info.ExtVirtualLinkInfo, evl)
		}

		for _, cp := range l.ExtCps {
			kept := info.ExtCpInfo[:0]
			for _, e := range info.ExtCpInfo {
				if e[extCpCpdID] != cp.CpdID {
					kept = append(kept, e)
				}
			}
			info.ExtCpInfo = append(kept, map[string]interface{}{
				extCpID:      cp.CpdID,
				extCpCpdID:   cp.CpdID,
				extCpLinkRef: l.ID,
			})
		}
	}
}

// extLinkOf returns the external virtual link bound to a CPD.
func extLinkOf(info *models.InstantiatedVnfInfo, cpdID string) *models.ExtVirtualLinkInfo {
	var linkID string
	for _, e := range info.ExtCpInfo {
		if e[extCpCpdID] == cpdID {
			linkID, _ = e[extCpLinkRef].(string)
			break
		}
	}
	if linkID == "" {
		return nil
	}
	for i := range info.ExtVirtualLinkInfo {
		if info.ExtVirtualLinkInfo[i].ID == linkID {
			return &info.ExtVirtualLinkInfo[i]
		}
	}
	return nil
}

// stackBuilder turns instantiatedVnfInfo into the StackSpec of the
// instance. VNFCs listed in nextVnfcs are built from the next package.
type stackBuilder struct {
	instanceID string
	pkg        *vnfpkg.Package
	flavour    *vnfpkg.Flavour
	grant      *models.Grant

	next        *vnfpkg.Package
	nextFlavour *vnfpkg.Flavour
	nextVnfcs   map[string]bool
}

func newStackBuilder(instanceID string, pkg *vnfpkg.Package, flavourID string, grant *models.Grant) (*stackBuilder, error) {
	flavour, err := pkg.VNFD.Flavour(flavourID)
	if err != nil {
		return nil, err
	}
	return &stackBuilder{
		instanceID: instanceID,
		pkg:        pkg,
		flavour:    flavour,
		grant:      grant,
	}, nil
}

// build returns the stack of info. Image, flavour and zone chosen for a
// VNFC are written to its metadata so later operations keep them.
func (b *stackBuilder) build(info *models.InstantiatedVnfInfo) (*infra.StackSpec, error) {
	spec := &infra.StackSpec{
		Name:       infra.StackName(b.instanceID),
		InstanceID: b.instanceID,
	}
	for _, vl := range info.VnfVirtualLinkResourceInfo {
		spec.VirtualLinks = append(spec.VirtualLinks, infra.VirtualLinkSpec{
			ID:     vl.ID,
			DescID: vl.VnfVirtualLinkDescID,
		})
	}
	for i := range info.VnfcResourceInfo {
		vs, err := b.vnfc(info, &info.VnfcResourceInfo[i])
		if err != nil {
			return nil, err
		}
		spec.Vnfcs = append(spec.Vnfcs, *vs)
	}
	return spec, nil
}

func (b *stackBuilder) vnfc(info *models.InstantiatedVnfInfo, v *models.VnfcResourceInfo) (*infra.VnfcSpec, error) {
	pkg, flavour := b.pkg, b.flavour
	if b.nextVnfcs[v.ID] {
		pkg, flavour = b.next, b.nextFlavour
	}
	vdu, ok := flavour.Vdus[v.VduID]
	if !ok {
		return nil, fmt.Errorf("vdu %s of vnfc %s not in flavour %s", v.VduID, v.ID, flavour.ID)
	}
	if v.Metadata == nil {
		v.Metadata = make(map[string]interface{})
	}

	vs := &infra.VnfcSpec{
		ID:      v.ID,
		VduID:   v.VduID,
		Image:   firstNonEmpty(metaString(v.Metadata, metaImage), b.grant.ImageFor(v.VduID), vdu.Image),
		Flavour: firstNonEmpty(metaString(v.Metadata, metaFlavour), b.grant.FlavourFor(v.VduID), vdu.Flavour),
		Zone:    firstNonEmpty(metaString(v.Metadata, metaZone), b.grant.ZoneFor(v.ID)),
	}
	setMeta(v.Metadata, metaImage, vs.Image)
	setMeta(v.Metadata, metaFlavour, vs.Flavour)
	setMeta(v.Metadata, metaZone, vs.Zone)

	for _, sid := range v.StorageResourceIDs {
		desc := storageDesc(info, sid)
		size := 0
		if vsd, ok := flavour.VirtualStorages[desc]; ok && vsd != nil {
			size = vsd.SizeGB
		}
		vs.Storages = append(vs.Storages, infra.StorageSpec{ID: sid, DescID: desc, SizeGB: size})
	}

	for _, cp := range v.VnfcCpInfo {
		cpd := vdu.Cps[cp.CpdID]
		if cpd != nil && cpd.VirtualLink != "" {
			vs.Ports = append(vs.Ports, infra.PortSpec{CpdID: cp.CpdID, VirtualLink: cpd.VirtualLink})
			continue
		}
		if evl := extLinkOf(info, cp.CpdID); evl != nil {
			vs.Ports = append(vs.Ports, infra.PortSpec{CpdID: cp.CpdID, ExtNetwork: evl.ResourceHandle.ResourceID})
		}
	}

	if vdu.Manifest != "" {
		manifest, err := pkg.ReadFile(vdu.Manifest)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest of vdu %s: %w", vdu.ID, err)
		}
		vs.Manifest = manifest
	}
	return vs, nil
}

// fillResources records the VIM resources of a converged stack in info.
func fillResources(info *models.InstantiatedVnfInfo, res map[string]infra.Resource, vimID string) error {
	handle := func(name string) (models.ResourceHandle, error) {
		r, ok := res[name]
		if !ok {
			return models.ResourceHandle{}, fmt.Errorf("%w: %s", infra.ErrResourceNotFound, name)
		}
		return models.ResourceHandle{
			VimConnectionID:      vimID,
			ResourceID:           r.PhysicalID,
			VimLevelResourceType: r.Type,
		}, nil
	}

	for i := range info.VnfVirtualLinkResourceInfo {
		h, err := handle(info.VnfVirtualLinkResourceInfo[i].ID)
		if err != nil {
			return err
		}
		info.VnfVirtualLinkResourceInfo[i].NetworkResource = h
	}
	for i := range info.VirtualStorageResourceInfo {
		h, err := handle(info.VirtualStorageResourceInfo[i].ID)
		if err != nil {
			return err
		}
		info.VirtualStorageResourceInfo[i].StorageResource = h
	}

	ports := make(map[string][]map[string]interface{})
	info.VnfcInfo = info.VnfcInfo[:0]
	for i := range info.VnfcResourceInfo {
		v := &info.VnfcResourceInfo[i]
		h, err := handle(v.ID)
		if err != nil {
			return err
		}
		v.ComputeResource = h

		for j := range v.VnfcCpInfo {
			cp := &v.VnfcCpInfo[j]
			cp.VnfExtCp = ""
			evl := extLinkOf(info, cp.CpdID)
			if evl == nil {
				continue
			}
			cp.VnfExtCp = evl.ID
			port := map[string]interface{}{
				"id":           cp.ID,
				"cpInstanceId": cp.ID,
			}
			if r, ok := res[cp.ID]; ok {
				port["resourceHandle"] = map[string]interface{}{
					"vimConnectionId": vimID,
					"resourceId":      r.PhysicalID,
				}
			}
			ports[evl.ID] = append(ports[evl.ID], port)
		}

		info.VnfcInfo = append(info.VnfcInfo, models.VnfcInfo{
			ID:                 v.VduID + "-" + v.ID,
			VduID:              v.VduID,
			VnfcResourceInfoID: v.ID,
			VnfcState:          vnfcStateStarted,
		})
	}
	for i := range info.ExtVirtualLinkInfo {
		info.ExtVirtualLinkInfo[i].ExtLinkPorts = ports[info.ExtVirtualLinkInfo[i].ID]
	}
	return nil
}

// selectVim returns the VIM connection an instance is deployed on. Nil
// selects the default infra driver.
func selectVim(inst *models.VnfInstance) (*models.VimConnectionInfo, string) {
	if len(inst.VimConnectionInfo) == 0 {
		return nil, ""
	}
	ids := make([]string, 0, len(inst.VimConnectionInfo))
	for id := range inst.VimConnectionInfo {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vim := inst.VimConnectionInfo[ids[0]]
	return &vim, ids[0]
}

func storageDesc(info *models.InstantiatedVnfInfo, id string) string {
	for _, s := range info.VirtualStorageResourceInfo {
		if s.ID == id {
			return s.VirtualStorageDescID
		}
	}
	return ""
}

func metaString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func setMeta(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
