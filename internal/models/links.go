package models

import "strings"

// APIRoot is the path prefix of the VNF LCM interface.
const APIRoot = "/vnflcm/v2"

// InstanceHref returns the URI of a VNF instance.
func InstanceHref(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + APIRoot + "/vnf_instances/" + id
}

// OpOccHref returns the URI of an op-occ.
func OpOccHref(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + APIRoot + "/vnf_lcm_op_occs/" + id
}

// SubscriptionHref returns the URI of a subscription.
func SubscriptionHref(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + APIRoot + "/subscriptions/" + id
}

// InstanceTaskHref returns the URI of a task resource of a VNF instance,
// e.g. "instantiate".
func InstanceTaskHref(endpoint, id, task string) string {
	return InstanceHref(endpoint, id) + "/" + task
}

// OpOccTaskHref returns the URI of a task resource of an op-occ, e.g. "retry".
func OpOccTaskHref(endpoint, id, task string) string {
	return OpOccHref(endpoint, id) + "/" + task
}

// NewInstanceLinks returns the links of an instance. Task links are
// offered only for the tasks its instantiation state allows.
func NewInstanceLinks(endpoint string, inst *VnfInstance) *VnfInstanceLinks {
	links := &VnfInstanceLinks{Self: Link{Href: InstanceHref(endpoint, inst.ID)}}
	task := func(name string) *Link {
		return &Link{Href: InstanceTaskHref(endpoint, inst.ID, name)}
	}
	if inst.InstantiationState == Instantiated {
		links.Terminate = task("terminate")
		links.Scale = task("scale")
		links.Heal = task("heal")
		links.ChangeExtConn = task("change_ext_conn")
	} else {
		links.Instantiate = task("instantiate")
	}
	return links
}

// NewOpOccLinks returns the links of an op-occ. retry, rollback and fail
// are offered while the op-occ is FAILED_TEMP.
func NewOpOccLinks(endpoint string, opOcc *VnfLcmOpOcc) *OpOccLinks {
	links := &OpOccLinks{
		Self:        Link{Href: OpOccHref(endpoint, opOcc.ID)},
		VnfInstance: Link{Href: InstanceHref(endpoint, opOcc.VnfInstanceID)},
	}
	if opOcc.OperationState == StateFailedTemp {
		links.Retry = &Link{Href: OpOccTaskHref(endpoint, opOcc.ID, "retry")}
		links.Rollback = &Link{Href: OpOccTaskHref(endpoint, opOcc.ID, "rollback")}
		links.Fail = &Link{Href: OpOccTaskHref(endpoint, opOcc.ID, "fail")}
	}
	return links
}
