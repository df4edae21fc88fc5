package kubernetes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/types"
)

const (
	// managedLabel marks objects this service owns.
	managedLabel = "agentrun.dev/managed"

	// sessionLabel carries the session id; it is also the service
	// selector, so it must be on the pod.
	sessionLabel = "agentrun.dev/session"

	// typeLabel records the sandbox type.
	typeLabel = "agentrun.dev/type"

	// containerName is the single sandbox container in every pod.
	containerName = "sandbox"

	// workspaceVolume backs /workspace with pod-lifetime storage.
	workspaceVolume = "workspace"

	// workspaceTarget is where the workspace volume is mounted.
	workspaceTarget = "/workspace"

	// pollInterval paces readiness polling against the API server.
	pollInterval = 3 * time.Second
)

func init() {
	driver.Register("kubernetes", New)
}

// Driver runs each sandbox as a pod plus a NodePort service. The
// cluster allocates the node ports, so the local port arbiter is not
// involved; clients reach the sandbox through a node address.
type Driver struct {
	clientset kubernetes.Interface
	namespace string
	cfg       config.K8sConfig
	resolver  *images.Resolver
	logger    zerolog.Logger
}

// New builds the REST config (in-cluster first, kubeconfig fallbacks)
// and connects the clientset.
func New(cfg *config.Config, deps driver.Deps) (driver.Driver, error) {
	restCfg, err := buildRESTConfig(cfg.K8s.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return newWithClientset(clientset, cfg.K8s, deps.Resolver), nil
}

// newWithClientset is the injection seam for tests.
func newWithClientset(clientset kubernetes.Interface, cfg config.K8sConfig, resolver *images.Resolver) *Driver {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	return &Driver{
		clientset: clientset,
		namespace: namespace,
		cfg:       cfg,
		resolver:  resolver,
		logger:    log.WithBackend("kubernetes"),
	}
}

// buildRESTConfig resolves credentials in-cluster first, then the
// configured kubeconfig, then KUBECONFIG, then ~/.kube/config.
func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate kubeconfig: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Backend returns the backend this driver serves.
func (d *Driver) Backend() types.Backend {
	return types.BackendKubernetes
}

// Create creates the sandbox pod and its NodePort service and reports
// the allocated node ports against a node address. The pod starts
// scheduling immediately; readiness is WaitForReady's job.
func (d *Driver) Create(ctx context.Context, req driver.CreateRequest) (*driver.CreateResult, error) {
	if len(req.ServicePorts) == 0 {
		return nil, fmt.Errorf("no service ports requested for session %s", req.SessionID)
	}

	name := driver.ContainerName(req.SessionID)
	image := d.resolver.Rewrite("kubernetes", req.Image)

	pod := d.buildPod(name, image, req)
	if _, err := d.clientset.CoreV1().Pods(d.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("failed to create pod %s: %w", name, err)
	}

	svc := buildService(name, req)
	created, err := d.clientset.CoreV1().Services(d.namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err != nil {
		d.deletePod(ctx, name)
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	nodePorts := make([]int, 0, len(created.Spec.Ports))
	for _, p := range created.Spec.Ports {
		nodePorts = append(nodePorts, int(p.NodePort))
	}

	host, err := d.nodeAddress(ctx)
	if err != nil {
		d.deleteService(ctx, name)
		d.deletePod(ctx, name)
		return nil, err
	}

	d.logger.Info().
		Str("session_id", req.SessionID).
		Str("pod", name).
		Str("host", host).
		Ints("node_ports", nodePorts).
		Msg("Pod and service created")

	return &driver.CreateResult{
		Handle:   name,
		Host:     host,
		Protocol: "http",
		Ports:    nodePorts,
		Meta: map[string]any{
			"namespace": d.namespace,
			"service":   name,
			"image":     image,
		},
	}, nil
}

// Start verifies the pod exists. Pods run from creation; there is no
// separate start step on this backend.
func (d *Driver) Start(ctx context.Context, handle string) error {
	if _, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, handle, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("failed to get pod %s: %w", handle, err)
	}
	return nil
}

// Stop deletes the pod; pods cannot be stopped in place. The grace
// becomes the pod's termination grace period. The service stays until
// Remove. Stopping a vanished pod reports success.
func (d *Driver) Stop(ctx context.Context, handle string, grace *time.Duration) error {
	opts := metav1.DeleteOptions{}
	if grace != nil {
		secs := int64(grace.Seconds())
		opts.GracePeriodSeconds = &secs
	}
	err := d.clientset.CoreV1().Pods(d.namespace).Delete(ctx, handle, opts)
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", handle, err)
	}
	return nil
}

// Remove deletes the service first, so the node ports are released
// even if the pod delete fails, then the pod. Force deletes the pod
// with no termination grace. Removing vanished objects reports
// success.
func (d *Driver) Remove(ctx context.Context, handle string, force bool) error {
	if err := d.deleteService(ctx, handle); err != nil {
		return err
	}
	var grace *time.Duration
	if force {
		grace = new(time.Duration)
	}
	if err := d.Stop(ctx, handle, grace); err != nil {
		return err
	}
	d.logger.Info().Str("pod", handle).Msg("Pod and service removed")
	return nil
}

// Status maps the pod phase onto the lifecycle states callers observe
// and reports the pod attributes behind the mapping. A vanished pod is
// unknown, not an error.
func (d *Driver) Status(ctx context.Context, handle string) (types.ContainerState, map[string]any, error) {
	pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, handle, metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return types.ContainerStateUnknown, nil, nil
		}
		return types.ContainerStateUnknown, nil, fmt.Errorf("failed to get pod %s: %w", handle, err)
	}
	attrs := map[string]any{
		"phase":  string(pod.Status.Phase),
		"node":   pod.Spec.NodeName,
		"pod_ip": pod.Status.PodIP,
		"ready":  podReady(pod),
	}
	return stateFromPhase(pod.Status.Phase), attrs, nil
}

// WaitForReady polls until the pod is Running and every container
// status reports ready, or the timeout elapses.
func (d *Driver) WaitForReady(ctx context.Context, result *driver.CreateResult, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return driver.PollUntil(waitCtx, pollInterval, func(ctx context.Context) (bool, error) {
		pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, result.Handle, metav1.GetOptions{})
		if err != nil {
			if k8serrors.IsNotFound(err) {
				return false, fmt.Errorf("pod %s disappeared while waiting", result.Handle)
			}
			return false, nil
		}
		if pod.Status.Phase == corev1.PodFailed {
			return false, fmt.Errorf("pod %s failed: %s", result.Handle, pod.Status.Reason)
		}
		return podReady(pod), nil
	})
}

// List enumerates managed pods in the namespace for the cleanup pass.
func (d *Driver) List(ctx context.Context) ([]driver.Instance, error) {
	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: managedLabel + "=true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	instances := make([]driver.Instance, 0, len(pods.Items))
	for _, pod := range pods.Items {
		sessionID := pod.Labels[sessionLabel]
		if sessionID == "" {
			continue
		}
		instances = append(instances, driver.Instance{
			Handle:    pod.Name,
			SessionID: sessionID,
			State:     stateFromPhase(pod.Status.Phase),
		})
	}
	return instances, nil
}

// buildPod assembles the sandbox pod: one container, the runtime knobs
// from config, and a pod-lifetime workspace volume.
func (d *Driver) buildPod(name, image string, req driver.CreateRequest) *corev1.Pod {
	containerPorts := make([]corev1.ContainerPort, 0, len(req.ServicePorts))
	for _, p := range req.ServicePorts {
		containerPorts = append(containerPorts, corev1.ContainerPort{
			ContainerPort: int32(p),
			Protocol:      corev1.ProtocolTCP,
		})
	}

	container := corev1.Container{
		Name:            containerName,
		Image:           image,
		Env:             envVars(req.Env),
		Ports:           containerPorts,
		ImagePullPolicy: pullPolicy(d.cfg.ImagePullPolicy),
		VolumeMounts: []corev1.VolumeMount{
			{Name: workspaceVolume, MountPath: workspaceTarget},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(int32(req.ServicePorts[0])),
				},
			},
			InitialDelaySeconds: 2,
			PeriodSeconds:       2,
			FailureThreshold:    30,
		},
	}

	limits := corev1.ResourceList{}
	if req.CPUs > 0 {
		limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(req.CPUs*1000), resource.DecimalSI)
	}
	if req.MemoryMB > 0 {
		limits[corev1.ResourceMemory] = *resource.NewQuantity(req.MemoryMB*1024*1024, resource.BinarySI)
	}
	if len(limits) > 0 {
		container.Resources = corev1.ResourceRequirements{Limits: limits}
	}

	pullSecrets := make([]corev1.LocalObjectReference, 0, len(d.cfg.ImagePullSecrets))
	for _, s := range d.cfg.ImagePullSecrets {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: s})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels: map[string]string{
				managedLabel: "true",
				sessionLabel: req.SessionID,
				typeLabel:    req.SandboxType,
			},
		},
		Spec: corev1.PodSpec{
			Containers:       []corev1.Container{container},
			RestartPolicy:    corev1.RestartPolicyNever,
			NodeSelector:     d.cfg.NodeSelector,
			Tolerations:      tolerations(d.cfg.Tolerations),
			ImagePullSecrets: pullSecrets,
			Volumes: []corev1.Volume{
				{
					Name: workspaceVolume,
					VolumeSource: corev1.VolumeSource{
						EmptyDir: &corev1.EmptyDirVolumeSource{},
					},
				},
			},
		},
	}
}

// buildService exposes every service port through one NodePort service
// selecting the session's pod. Node ports are cluster-allocated.
func buildService(name string, req driver.CreateRequest) *corev1.Service {
	servicePorts := make([]corev1.ServicePort, 0, len(req.ServicePorts))
	for _, p := range req.ServicePorts {
		servicePorts = append(servicePorts, corev1.ServicePort{
			Name:       fmt.Sprintf("port-%d", p),
			Port:       int32(p),
			TargetPort: intstr.FromInt32(int32(p)),
			Protocol:   corev1.ProtocolTCP,
		})
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				managedLabel: "true",
				sessionLabel: req.SessionID,
			},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: map[string]string{sessionLabel: req.SessionID},
			Ports:    servicePorts,
		},
	}
}

// nodeAddress picks the address clients use to reach node ports:
// the first ExternalIP in the cluster, else the first InternalIP.
func (d *Driver) nodeAddress(ctx context.Context) (string, error) {
	nodes, err := d.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}
	addr := pickNodeAddress(nodes.Items)
	if addr == "" {
		return "", fmt.Errorf("no node address available")
	}
	return addr, nil
}

func (d *Driver) deletePod(ctx context.Context, name string) {
	err := d.clientset.CoreV1().Pods(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		d.logger.Warn().Err(err).Str("pod", name).Msg("Failed to delete pod")
	}
}

func (d *Driver) deleteService(ctx context.Context, name string) error {
	err := d.clientset.CoreV1().Services(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete service %s: %w", name, err)
	}
	return nil
}

// pickNodeAddress prefers ExternalIP over InternalIP across all nodes.
func pickNodeAddress(nodes []corev1.Node) string {
	var internal string
	for _, node := range nodes {
		for _, addr := range node.Status.Addresses {
			switch addr.Type {
			case corev1.NodeExternalIP:
				if addr.Address != "" {
					return addr.Address
				}
			case corev1.NodeInternalIP:
				if internal == "" {
					internal = addr.Address
				}
			}
		}
	}
	return internal
}

// stateFromPhase maps a pod phase onto the lifecycle states callers
// observe.
func stateFromPhase(phase corev1.PodPhase) types.ContainerState {
	switch phase {
	case corev1.PodPending:
		return types.ContainerStateCreating
	case corev1.PodRunning:
		return types.ContainerStateRunning
	case corev1.PodSucceeded, corev1.PodFailed:
		return types.ContainerStateExited
	default:
		return types.ContainerStateUnknown
	}
}

// podReady reports whether the pod is Running with every container
// status ready. Phase alone says nothing about the control server.
func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, status := range pod.Status.ContainerStatuses {
		if !status.Ready {
			return false
		}
	}
	return true
}

// envVars renders the env map sorted so pod specs are stable across
// runs.
func envVars(env map[string]string) []corev1.EnvVar {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, corev1.EnvVar{Name: k, Value: env[k]})
	}
	return out
}

// tolerations maps the config passthrough onto the API type.
func tolerations(in []config.Toleration) []corev1.Toleration {
	out := make([]corev1.Toleration, 0, len(in))
	for _, t := range in {
		out = append(out, corev1.Toleration{
			Key:      t.Key,
			Operator: corev1.TolerationOperator(t.Operator),
			Value:    t.Value,
			Effect:   corev1.TaintEffect(t.Effect),
		})
	}
	return out
}

// pullPolicy defaults to IfNotPresent.
func pullPolicy(p string) corev1.PullPolicy {
	switch p {
	case "Always":
		return corev1.PullAlways
	case "Never":
		return corev1.PullNever
	default:
		return corev1.PullIfNotPresent
	}
}
