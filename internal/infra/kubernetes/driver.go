// Package kubernetes is the Kubernetes infra driver. A stack is a
// ConfigMap anchor plus one Pod per VNFC and one PersistentVolumeClaim
// per virtual storage, all labelled with the stack name. Internal
// virtual links have no Kubernetes counterpart and are not created.
package kubernetes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
)

// Labels and annotations set on stack objects.
const (
	LabelStack     = "vnfm.io/stack"
	LabelInstance  = "vnfm.io/vnf-instance-id"
	LabelVnfc      = "vnfm.io/vnfc-id"
	LabelVdu       = "vnfm.io/vdu-id"
	LabelStorage   = "vnfm.io/storage-id"
	LabelSpecHash  = "vnfm.io/spec-hash"
	AnnotationHeal = "vnfm.io/unhealthy"
)

const defaultNamespace = "default"

// ErrInvalidManifest is returned when a VDU manifest is not a Pod.
var ErrInvalidManifest = errors.New("invalid pod manifest")

// ClientFactory returns a clientset and namespace for a VIM.
type ClientFactory func(vim *models.VimConnectionInfo) (kubernetes.Interface, string, error)

// Config holds configuration for the Kubernetes driver.
type Config struct {
	// Kubeconfig is used when the VIM connection carries no bearer token.
	// Empty uses in-cluster configuration.
	Kubeconfig string

	// Namespace is used when the VIM connection does not name one.
	Namespace string

	// Logger is the logger to use.
	Logger *zap.Logger

	// NewClient overrides how clientsets are built.
	NewClient ClientFactory
}

// Driver implements infra.Driver on Kubernetes.
type Driver struct {
	kubeconfig string
	namespace  string
	logger     *zap.Logger
	newClient  ClientFactory

	mu      sync.Mutex
	clients map[string]kubernetes.Interface
}

// New creates a Kubernetes driver.
func New(cfg *Config) *Driver {
	d := &Driver{
		kubeconfig: cfg.Kubeconfig,
		namespace:  cfg.Namespace,
		logger:     cfg.Logger,
		newClient:  cfg.NewClient,
		clients:    make(map[string]kubernetes.Interface),
	}
	if d.namespace == "" {
		d.namespace = defaultNamespace
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("driver", "kubernetes"))
	if d.newClient == nil {
		d.newClient = d.buildClient
	}
	return d
}

// Name implements infra.Driver.
func (d *Driver) Name() string {
	return "kubernetes"
}

// VimType implements infra.Driver.
func (d *Driver) VimType() string {
	return models.VimTypeKubernetes
}

// Apply converges pods and claims to spec. Pods whose spec changed or
// that were marked unhealthy are replaced under a new name.
func (d *Driver) Apply(ctx context.Context, vim *models.VimConnectionInfo, spec *infra.StackSpec) error {
	client, ns, err := d.client(vim)
	if err != nil {
		return err
	}

	op, err := d.upsertAnchor(ctx, client, ns, spec)
	if err != nil {
		return err
	}

	claims, err := d.applyClaims(ctx, client, ns, spec)
	if err != nil {
		return err
	}
	if err := d.applyPods(ctx, client, ns, spec, claims); err != nil {
		return err
	}

	d.logger.Info("stack applied",
		zap.String("stack", spec.Name),
		zap.String("namespace", ns),
		zap.String("operation", op),
		zap.Int("vnfcs", len(spec.Vnfcs)),
	)
	return nil
}

// Delete removes every object of the stack.
func (d *Driver) Delete(ctx context.Context, vim *models.VimConnectionInfo, stackName string) error {
	client, ns, err := d.client(vim)
	if err != nil {
		return err
	}
	pods, err := d.listPods(ctx, client, ns, stackName)
	if err != nil {
		return err
	}
	for _, p := range pods {
		if err := client.CoreV1().Pods(ns).Delete(ctx, p.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete pod %s: %w", p.Name, err)
		}
	}

	claims, err := d.listClaims(ctx, client, ns, stackName)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if err := client.CoreV1().PersistentVolumeClaims(ns).Delete(ctx, c.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete claim %s: %w", c.Name, err)
		}
	}

	err = client.CoreV1().ConfigMaps(ns).Delete(ctx, stackName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete stack anchor: %w", err)
	}
	return nil
}

// Status derives the stack status from its pods: COMPLETE once every VNFC
// pod runs, FAILED as soon as one pod failed.
func (d *Driver) Status(ctx context.Context, vim *models.VimConnectionInfo, stackName string) (*infra.Status, error) {
	client, ns, err := d.client(vim)
	if err != nil {
		return nil, err
	}
	anchor, err := client.CoreV1().ConfigMaps(ns).Get(ctx, stackName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack anchor: %w", err)
	}
	op := anchor.Data["operation"]
	want, _ := strconv.Atoi(anchor.Data["vnfcs"])

	pods, err := d.listPods(ctx, client, ns, stackName)
	if err != nil {
		return nil, err
	}

	running := 0
	for _, p := range pods {
		switch p.Status.Phase {
		case corev1.PodFailed:
			return &infra.Status{
				Status: op + "_FAILED",
				Reason: fmt.Sprintf("pod %s failed: %s", p.Name, p.Status.Message),
			}, nil
		case corev1.PodRunning:
			running++
		}
	}
	if running < want {
		return &infra.Status{Status: op + "_IN_PROGRESS"}, nil
	}
	return &infra.Status{Status: op + "_COMPLETE"}, nil
}

// Resources lists the VNFC pods and storage claims of the stack.
func (d *Driver) Resources(ctx context.Context, vim *models.VimConnectionInfo, stackName string) ([]infra.Resource, error) {
	client, ns, err := d.client(vim)
	if err != nil {
		return nil, err
	}
	pods, err := d.listPods(ctx, client, ns, stackName)
	if err != nil {
		return nil, err
	}
	claims, err := d.listClaims(ctx, client, ns, stackName)
	if err != nil {
		return nil, err
	}

	out := make([]infra.Resource, 0, len(pods)+len(claims))
	for _, p := range pods {
		out = append(out, infra.Resource{
			Name:       p.Labels[LabelVnfc],
			Kind:       infra.KindCompute,
			PhysicalID: p.Name,
			Type:       "Pod",
			Status:     string(p.Status.Phase),
		})
	}
	for _, c := range claims {
		out = append(out, infra.Resource{
			Name:       c.Labels[LabelStorage],
			Kind:       infra.KindStorage,
			PhysicalID: c.Name,
			Type:       "PersistentVolumeClaim",
			Status:     string(c.Status.Phase),
		})
	}
	return out, nil
}

// ResourceInfo returns one pod or claim of the stack.
func (d *Driver) ResourceInfo(ctx context.Context, vim *models.VimConnectionInfo, stackName, resourceName string) (*infra.Resource, error) {
	list, err := d.Resources(ctx, vim, stackName)
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		if r.Name == resourceName {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", infra.ErrResourceNotFound, resourceName)
}

// MarkUnhealthy annotates pods and claims so the next Apply replaces them.
func (d *Driver) MarkUnhealthy(ctx context.Context, vim *models.VimConnectionInfo, stackName string, resourceNames []string) error {
	client, ns, err := d.client(vim)
	if err != nil {
		return err
	}
	pods, err := d.listPods(ctx, client, ns, stackName)
	if err != nil {
		return err
	}
	claims, err := d.listClaims(ctx, client, ns, stackName)
	if err != nil {
		return err
	}

	for _, name := range resourceNames {
		found := false
		for i := range pods {
			if pods[i].Labels[LabelVnfc] != name {
				continue
			}
			found = true
			p := &pods[i]
			setAnnotation(&p.ObjectMeta, AnnotationHeal, "true")
			if _, err := client.CoreV1().Pods(ns).Update(ctx, p, metav1.UpdateOptions{}); err != nil {
				return fmt.Errorf("failed to mark pod %s unhealthy: %w", p.Name, err)
			}
		}
		for i := range claims {
			if claims[i].Labels[LabelStorage] != name {
				continue
			}
			found = true
			c := &claims[i]
			setAnnotation(&c.ObjectMeta, AnnotationHeal, "true")
			if _, err := client.CoreV1().PersistentVolumeClaims(ns).Update(ctx, c, metav1.UpdateOptions{}); err != nil {
				return fmt.Errorf("failed to mark claim %s unhealthy: %w", c.Name, err)
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", infra.ErrResourceNotFound, name)
		}
	}
	return nil
}

func (d *Driver) upsertAnchor(ctx context.Context, client kubernetes.Interface, ns string, spec *infra.StackSpec) (string, error) {
	cms := client.CoreV1().ConfigMaps(ns)
	data := map[string]string{
		"operation": "CREATE",
		"vnfcs":     strconv.Itoa(len(spec.Vnfcs)),
		"appliedAt": time.Now().UTC().Format(time.RFC3339),
	}

	existing, err := cms.Get(ctx, spec.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = cms.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:   spec.Name,
				Labels: map[string]string{LabelStack: spec.Name, LabelInstance: spec.InstanceID},
			},
			Data: data,
		}, metav1.CreateOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to create stack anchor: %w", err)
		}
		return "CREATE", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get stack anchor: %w", err)
	}

	data["operation"] = "UPDATE"
	existing.Data = data
	if _, err := cms.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("failed to update stack anchor: %w", err)
	}
	return "UPDATE", nil
}

// applyClaims converges the storage claims and returns the claim name of
// each storage id.
func (d *Driver) applyClaims(ctx context.Context, client kubernetes.Interface, ns string, spec *infra.StackSpec) (map[string]string, error) {
	pvcs := client.CoreV1().PersistentVolumeClaims(ns)
	existing, err := d.listClaims(ctx, client, ns, spec.Name)
	if err != nil {
		return nil, err
	}
	current := make(map[string]corev1.PersistentVolumeClaim, len(existing))
	for _, c := range existing {
		current[c.Labels[LabelStorage]] = c
	}

	names := make(map[string]string)
	for _, v := range spec.Vnfcs {
		for _, s := range v.Storages {
			c, ok := current[s.ID]
			if ok && c.Annotations[AnnotationHeal] != "true" {
				names[s.ID] = c.Name
				continue
			}
			if ok {
				if err := pvcs.Delete(ctx, c.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
					return nil, fmt.Errorf("failed to delete claim %s: %w", c.Name, err)
				}
			}
			claim := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{
					Name:   objectName(s.DescID),
					Labels: map[string]string{LabelStack: spec.Name, LabelInstance: spec.InstanceID, LabelStorage: s.ID},
				},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse(strconv.Itoa(max(s.SizeGB, 1)) + "Gi"),
						},
					},
				},
			}
			if _, err := pvcs.Create(ctx, claim, metav1.CreateOptions{}); err != nil {
				return nil, fmt.Errorf("failed to create claim for %s: %w", s.ID, err)
			}
			names[s.ID] = claim.Name
		}
	}

	for id, c := range current {
		if _, ok := names[id]; ok {
			continue
		}
		if err := pvcs.Delete(ctx, c.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to delete claim %s: %w", c.Name, err)
		}
	}
	return names, nil
}

func (d *Driver) applyPods(ctx context.Context, client kubernetes.Interface, ns string, spec *infra.StackSpec, claims map[string]string) error {
	podsAPI := client.CoreV1().Pods(ns)
	existing, err := d.listPods(ctx, client, ns, spec.Name)
	if err != nil {
		return err
	}
	current := make(map[string]corev1.Pod, len(existing))
	for _, p := range existing {
		current[p.Labels[LabelVnfc]] = p
	}

	desired := make(map[string]bool, len(spec.Vnfcs))
	for _, v := range spec.Vnfcs {
		desired[v.ID] = true
		pod, err := buildPod(spec, v, claims)
		if err != nil {
			return err
		}

		cur, ok := current[v.ID]
		if ok && cur.Annotations[AnnotationHeal] != "true" && cur.Labels[LabelSpecHash] == pod.Labels[LabelSpecHash] {
			continue
		}
		if ok {
			if err := podsAPI.Delete(ctx, cur.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
				return fmt.Errorf("failed to delete pod %s: %w", cur.Name, err)
			}
		}
		if _, err := podsAPI.Create(ctx, pod, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create pod for %s: %w", v.ID, err)
		}
	}

	for id, p := range current {
		if desired[id] {
			continue
		}
		if err := podsAPI.Delete(ctx, p.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete pod %s: %w", p.Name, err)
		}
	}
	return nil
}

// buildPod renders the pod of a VNFC from its manifest, or from its image
// when the VDU has no manifest.
func buildPod(spec *infra.StackSpec, v infra.VnfcSpec, claims map[string]string) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if len(v.Manifest) > 0 {
		if err := yaml.Unmarshal(v.Manifest, pod); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		if pod.Kind != "" && pod.Kind != "Pod" {
			return nil, fmt.Errorf("%w: kind %s", ErrInvalidManifest, pod.Kind)
		}
		if len(pod.Spec.Containers) == 0 {
			return nil, fmt.Errorf("%w: no containers", ErrInvalidManifest)
		}
	} else {
		pod.Spec.Containers = []corev1.Container{{Name: sanitize(v.VduID)}}
	}
	if v.Image != "" {
		pod.Spec.Containers[0].Image = v.Image
	}
	if v.Zone != "" {
		if pod.Spec.NodeSelector == nil {
			pod.Spec.NodeSelector = make(map[string]string)
		}
		pod.Spec.NodeSelector[corev1.LabelTopologyZone] = v.Zone
	}
	for i, s := range v.Storages {
		vol := fmt.Sprintf("storage-%d", i)
		pod.Spec.Volumes = append(pod.Spec.Volumes, corev1.Volume{
			Name: vol,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claims[s.ID]},
			},
		})
		pod.Spec.Containers[0].VolumeMounts = append(pod.Spec.Containers[0].VolumeMounts, corev1.VolumeMount{
			Name:      vol,
			MountPath: "/data/" + sanitize(s.DescID),
		})
	}

	hash, err := specHash(v)
	if err != nil {
		return nil, err
	}
	pod.APIVersion = "v1"
	pod.Kind = "Pod"
	pod.Name = objectName(v.VduID)
	pod.Namespace = ""
	if pod.Labels == nil {
		pod.Labels = make(map[string]string)
	}
	pod.Labels[LabelStack] = spec.Name
	pod.Labels[LabelInstance] = spec.InstanceID
	pod.Labels[LabelVnfc] = v.ID
	pod.Labels[LabelVdu] = sanitize(v.VduID)
	pod.Labels[LabelSpecHash] = hash
	return pod, nil
}

func (d *Driver) listPods(ctx context.Context, client kubernetes.Interface, ns, stackName string) ([]corev1.Pod, error) {
	list, err := client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: stackSelector(stackName)})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return list.Items, nil
}

func (d *Driver) listClaims(ctx context.Context, client kubernetes.Interface, ns, stackName string) ([]corev1.PersistentVolumeClaim, error) {
	list, err := client.CoreV1().PersistentVolumeClaims(ns).List(ctx, metav1.ListOptions{LabelSelector: stackSelector(stackName)})
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return list.Items, nil
}

func (d *Driver) client(vim *models.VimConnectionInfo) (kubernetes.Interface, string, error) {
	ns := d.namespace
	if vim != nil {
		if n, _ := vim.InterfaceInfo["namespace"].(string); n != "" {
			ns = n
		}
	}

	key := ""
	if vim != nil {
		key, _ = vim.InterfaceInfo["endpoint"].(string)
	}
	d.mu.Lock()
	c, ok := d.clients[key]
	d.mu.Unlock()
	if ok {
		return c, ns, nil
	}

	c, vimNS, err := d.newClient(vim)
	if err != nil {
		return nil, "", err
	}
	if vimNS != "" {
		ns = vimNS
	}

	d.mu.Lock()
	d.clients[key] = c
	d.mu.Unlock()
	return c, ns, nil
}

// buildClient uses the endpoint and bearer token of the VIM connection,
// falling back to the kubeconfig or the in-cluster configuration.
func (d *Driver) buildClient(vim *models.VimConnectionInfo) (kubernetes.Interface, string, error) {
	var restConfig *rest.Config
	var err error

	var endpoint, token string
	if vim != nil {
		endpoint, _ = vim.InterfaceInfo["endpoint"].(string)
		token, _ = vim.AccessInfo["bearer_token"].(string)
	}

	switch {
	case endpoint != "" && token != "":
		restConfig = &rest.Config{Host: endpoint, BearerToken: token}
		if ca, _ := vim.InterfaceInfo["ssl_ca_cert"].(string); ca != "" {
			restConfig.TLSClientConfig.CAData = []byte(ca)
		} else {
			restConfig.TLSClientConfig.Insecure = true
		}
	case d.kubeconfig != "":
		restConfig, err = clientcmd.BuildConfigFromFlags("", d.kubeconfig)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
	default:
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, "", fmt.Errorf("failed to build in-cluster config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	d.logger.Info("initialized Kubernetes client", zap.String("host", restConfig.Host))
	return client, "", nil
}

func stackSelector(stackName string) string {
	return labels.SelectorFromSet(labels.Set{LabelStack: stackName}).String()
}

func setAnnotation(meta *metav1.ObjectMeta, key, value string) {
	if meta.Annotations == nil {
		meta.Annotations = make(map[string]string)
	}
	meta.Annotations[key] = value
}

func specHash(v infra.VnfcSpec) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to hash vnfc spec: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8]), nil
}

// objectName returns a fresh DNS-1123 name derived from base.
func objectName(base string) string {
	return sanitize(base) + "-" + uuid.New().String()[:8]
}

// sanitize lowercases s and replaces characters not allowed in DNS-1123
// labels.
func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 40 {
		out = strings.TrimRight(out[:40], "-")
	}
	if out == "" {
		out = "vnfc"
	}
	return out
}
