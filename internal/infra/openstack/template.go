package openstack

import (
	"encoding/json"

	"github.com/piwi3910/vnfm/internal/infra"
)

// templateVersion is the HOT version of generated templates.
const templateVersion = "2021-04-16"

// Heat resource types used by generated templates.
const (
	typeServer = "OS::Nova::Server"
	typeVolume = "OS::Cinder::Volume"
	typeNet    = "OS::Neutron::Net"
	typePort   = "OS::Neutron::Port"
)

type hotResource struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// buildTemplate renders spec as a HOT template. Resource names are the
// VNFM ids so stack resources map back to VNFCs, storages and links.
func buildTemplate(spec *infra.StackSpec) ([]byte, error) {
	resources := make(map[string]hotResource)

	for _, vl := range spec.VirtualLinks {
		resources[vl.ID] = hotResource{
			Type:       typeNet,
			Properties: map[string]interface{}{"name": spec.Name + "-" + vl.DescID},
		}
	}

	for _, v := range spec.Vnfcs {
		networks := make([]map[string]interface{}, 0, len(v.Ports))
		for _, p := range v.Ports {
			portName := infra.PortName(v.ID, p.CpdID)
			var network interface{} = p.ExtNetwork
			if p.VirtualLink != "" {
				network = map[string]interface{}{"get_resource": p.VirtualLink}
			}
			resources[portName] = hotResource{
				Type: typePort,
				Properties: map[string]interface{}{
					"name":    portName,
					"network": network,
				},
			}
			networks = append(networks, map[string]interface{}{
				"port": map[string]interface{}{"get_resource": portName},
			})
		}

		devices := make([]map[string]interface{}, 0, len(v.Storages))
		for _, s := range v.Storages {
			resources[s.ID] = hotResource{
				Type:       typeVolume,
				Properties: map[string]interface{}{"size": s.SizeGB},
			}
			devices = append(devices, map[string]interface{}{
				"volume_id":             map[string]interface{}{"get_resource": s.ID},
				"delete_on_termination": true,
			})
		}

		props := map[string]interface{}{
			"name":   v.VduID + "-" + v.ID,
			"image":  v.Image,
			"flavor": v.Flavour,
			"metadata": map[string]interface{}{
				"vnf_instance_id": spec.InstanceID,
				"vdu_id":          v.VduID,
			},
		}
		if v.Zone != "" {
			props["availability_zone"] = v.Zone
		}
		if len(networks) > 0 {
			props["networks"] = networks
		}
		if len(devices) > 0 {
			props["block_device_mapping_v2"] = devices
		}
		resources[v.ID] = hotResource{Type: typeServer, Properties: props}
	}

	return json.Marshal(map[string]interface{}{
		"heat_template_version": templateVersion,
		"description":           "VNF " + spec.InstanceID,
		"resources":             resources,
	})
}

// kindOf maps a Heat resource type to a resource kind.
func kindOf(heatType string) (infra.ResourceKind, bool) {
	switch heatType {
	case typeServer:
		return infra.KindCompute, true
	case typeVolume:
		return infra.KindStorage, true
	case typeNet:
		return infra.KindNetwork, true
	case typePort:
		return infra.KindPort, true
	default:
		return "", false
	}
}
