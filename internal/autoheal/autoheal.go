// Package autoheal turns server fault notifications from a VIM monitor
// into automatic HEAL operations.
//
// A notification names a VNF instance, a server and an alarm. Once it is
// accepted, the affected VNFC is queued on a per-instance batch; when the
// batch window closes every queued VNFC is healed by one HEAL op-occ with
// isAutomaticInvocation set.
package autoheal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/conductor"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
)

// FaultIDMetadataKey is the instantiatedVnfInfo metadata key listing the
// fault ids registered for the instance.
const FaultIDMetadataKey = "ServerNotifierFaultID"

// DefaultWindow is how long notifications are collected before healing.
const DefaultWindow = 20 * time.Second

var (
	// ErrInstanceNotFound is returned for notifications about unknown instances.
	ErrInstanceNotFound = errors.New("target vnf instance not found")

	// ErrNotMonitored is returned when the instance carries no monitoring data.
	ErrNotMonitored = errors.New("server notification is not set up for the vnf instance")

	// ErrFaultIDMismatch is returned when the fault id is not registered.
	ErrFaultIDMismatch = errors.New("fault_id does not match")

	// ErrVnfcNotFound is returned when no VNFC carries the alarm id.
	ErrVnfcNotFound = errors.New("target vnfc not found")
)

// Notification is the payload sent by the monitor.
type Notification struct {
	HostID      string                 `json:"host_id,omitempty"`
	AlarmID     string                 `json:"alarm_id" binding:"required"`
	FaultID     string                 `json:"fault_id" binding:"required"`
	FaultType   string                 `json:"fault_type,omitempty"`
	FaultOption map[string]interface{} `json:"fault_option,omitempty"`
}

// Request is the body of a server notification.
type Request struct {
	Notification *Notification `json:"notification" binding:"required"`
}

// Healer is the lifecycle core used by the Notifier. It is implemented by
// *conductor.Conductor.
type Healer interface {
	GetInstance(ctx context.Context, id string) (*models.VnfInstance, error)
	AutoHeal(ctx context.Context, instanceID string, vnfcIDs []string) (*models.VnfLcmOpOcc, error)
}

// batch collects VNFC ids of one instance until its timer fires.
type batch struct {
	timer   *time.Timer
	vnfcIDs map[string]struct{}
}

// Notifier validates server notifications and batches the resulting heals.
type Notifier struct {
	healer Healer
	window time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	batches map[string]*batch
	stopped bool
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier. A zero window means DefaultWindow.
func NewNotifier(healer Healer, window time.Duration, logger *zap.Logger) (*Notifier, error) {
	if healer == nil {
		return nil, fmt.Errorf("healer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Notifier{
		healer:  healer,
		window:  window,
		logger:  logger,
		batches: make(map[string]*batch),
	}, nil
}

// Notify handles a notification about a server of instanceID. It returns
// nil without queueing anything when auto-heal is disabled on the
// instance.
func (n *Notifier) Notify(ctx context.Context, instanceID, serverID string, note *Notification) error {
	inst, err := n.healer.GetInstance(ctx, instanceID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", instanceID, ErrInstanceNotFound)
	}
	if err != nil {
		return err
	}

	if enabled, _ := inst.VnfConfigurableProperties["isAutohealEnabled"].(bool); !enabled {
		n.logger.Info("server notification skipped, auto-heal disabled",
			zap.String("vnf_instance_id", instanceID),
			zap.String("server_id", serverID),
		)
		return nil
	}

	vnfcIDs, err := TargetVnfcs(inst, note.AlarmID, note.FaultID)
	if err != nil {
		return err
	}

	n.logger.Info("server notification accepted",
		zap.String("vnf_instance_id", instanceID),
		zap.String("server_id", serverID),
		zap.String("alarm_id", note.AlarmID),
		zap.Strings("vnfc_ids", vnfcIDs),
	)
	n.enqueue(instanceID, vnfcIDs)
	return nil
}

// TargetVnfcs returns the ids of the VNFCs (vnfcInfo) whose compute
// resource raised alarmID, after checking that faultID is registered for
// the instance.
func TargetVnfcs(inst *models.VnfInstance, alarmID, faultID string) ([]string, error) {
	info := inst.InstantiatedVnfInfo
	if info == nil || info.Metadata == nil || len(info.VnfcResourceInfo) == 0 || len(info.VnfcInfo) == 0 {
		return nil, ErrNotMonitored
	}

	if !containsString(info.Metadata[FaultIDMetadataKey], faultID) {
		return nil, fmt.Errorf("%s: %w", faultID, ErrFaultIDMismatch)
	}

	resources := make(map[string]struct{})
	for _, rsc := range info.VnfcResourceInfo {
		sn, _ := rsc.Metadata["server_notification"].(map[string]interface{})
		if id, _ := sn["alarmId"].(string); id != "" && id == alarmID {
			resources[rsc.ID] = struct{}{}
		}
	}

	var ids []string
	for _, vnfc := range info.VnfcInfo {
		if _, ok := resources[vnfc.VnfcResourceInfoID]; ok {
			ids = append(ids, vnfc.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("alarm %s: %w", alarmID, ErrVnfcNotFound)
	}
	return ids, nil
}

// containsString reports whether v, a decoded JSON list or a string,
// holds s.
func containsString(v interface{}, s string) bool {
	switch t := v.(type) {
	case string:
		return t == s
	case []string:
		for _, e := range t {
			if e == s {
				return true
			}
		}
	case []interface{}:
		for _, e := range t {
			if str, ok := e.(string); ok && str == s {
				return true
			}
		}
	}
	return false
}

func (n *Notifier) enqueue(instanceID string, vnfcIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}

	b, ok := n.batches[instanceID]
	if !ok {
		b = &batch{vnfcIDs: make(map[string]struct{})}
		b.timer = time.AfterFunc(n.window, func() { n.expire(instanceID, b) })
		n.batches[instanceID] = b
	}
	for _, id := range vnfcIDs {
		b.vnfcIDs[id] = struct{}{}
	}
}

// expire heals the VNFCs collected by b.
func (n *Notifier) expire(instanceID string, b *batch) {
	n.mu.Lock()
	if n.batches[instanceID] != b || n.stopped {
		n.mu.Unlock()
		return
	}
	delete(n.batches, instanceID)
	ids := make([]string, 0, len(b.vnfcIDs))
	for id := range b.vnfcIDs {
		ids = append(ids, id)
	}
	n.wg.Add(1)
	n.mu.Unlock()
	defer n.wg.Done()

	sort.Strings(ids)
	opOcc, err := n.healer.AutoHeal(context.Background(), instanceID, ids)
	if err != nil {
		n.logger.Error("auto-heal failed",
			zap.String("vnf_instance_id", instanceID),
			zap.Strings("vnfc_ids", ids),
			zap.Error(err),
		)
		return
	}
	n.logger.Info("auto-heal started",
		zap.String("vnf_instance_id", instanceID),
		zap.String("op_occ_id", opOcc.ID),
		zap.Strings("vnfc_ids", ids),
	)
}

// Cancel drops the pending batch of an instance.
func (n *Notifier) Cancel(instanceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.batches[instanceID]; ok {
		b.timer.Stop()
		delete(n.batches, instanceID)
	}
}

// Pending returns the VNFC ids queued for an instance.
func (n *Notifier) Pending(instanceID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.batches[instanceID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(b.vnfcIDs))
	for id := range b.vnfcIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop drops every pending batch and waits for running heals to be
// requested.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	for id, b := range n.batches {
		b.timer.Stop()
		delete(n.batches, id)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// Publisher wraps next so that pending batches of an instance are dropped
// once it is being terminated.
func (n *Notifier) Publisher(next conductor.Publisher) conductor.Publisher {
	return &cancellingPublisher{next: next, notifier: n}
}

type cancellingPublisher struct {
	next     conductor.Publisher
	notifier *Notifier
}

func (p *cancellingPublisher) NotifyOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc, inst *models.VnfInstance) error {
	if opOcc.Operation == models.OpTerminate {
		p.notifier.Cancel(opOcc.VnfInstanceID)
	}
	if p.next == nil {
		return nil
	}
	return p.next.NotifyOpOcc(ctx, opOcc, inst)
}

func (p *cancellingPublisher) NotifyInstanceCreated(ctx context.Context, inst *models.VnfInstance) error {
	if p.next == nil {
		return nil
	}
	return p.next.NotifyInstanceCreated(ctx, inst)
}

func (p *cancellingPublisher) NotifyInstanceDeleted(ctx context.Context, inst *models.VnfInstance) error {
	p.notifier.Cancel(inst.ID)
	if p.next == nil {
		return nil
	}
	return p.next.NotifyInstanceDeleted(ctx, inst)
}
