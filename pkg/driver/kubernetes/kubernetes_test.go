package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/images"
	"github.com/agentrun/agentrun/pkg/types"
)

func testNode(name string, addrs ...corev1.NodeAddress) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     corev1.NodeStatus{Addresses: addrs},
	}
}

// newTestDriver wires a fake clientset with a reactor that allocates
// node ports the way a real API server would.
func newTestDriver(t *testing.T, objects ...runtime.Object) (*Driver, *fake.Clientset) {
	t.Helper()
	clientset := fake.NewClientset(objects...)
	clientset.PrependReactor("create", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		svc := action.(k8stesting.CreateAction).GetObject().(*corev1.Service)
		for i := range svc.Spec.Ports {
			svc.Spec.Ports[i].NodePort = 30080 + int32(i)
		}
		return false, nil, nil
	})

	resolver := images.NewResolver(config.ImageConfig{
		Types: map[string]string{"base": "agentrun/sandbox-base:latest"},
	})
	d := newWithClientset(clientset, config.K8sConfig{Namespace: "agentrun-test"}, resolver)
	return d, clientset
}

func TestCreateAllocatesNodePorts(t *testing.T) {
	d, clientset := newTestDriver(t, testNode("n1",
		corev1.NodeAddress{Type: corev1.NodeInternalIP, Address: "10.0.0.5"},
		corev1.NodeAddress{Type: corev1.NodeExternalIP, Address: "203.0.113.9"},
	))

	result, err := d.Create(context.Background(), driver.CreateRequest{
		SessionID:    "s1",
		SandboxType:  "base",
		Image:        "agentrun/sandbox-base:latest",
		Env:          map[string]string{"SECRET_TOKEN": "tok"},
		ServicePorts: []int{8090, 8080},
	})
	require.NoError(t, err)

	assert.Equal(t, "agentrun-s1", result.Handle)
	assert.Equal(t, "203.0.113.9", result.Host)
	assert.Equal(t, "http", result.Protocol)
	assert.Equal(t, []int{30080, 30081}, result.Ports)

	pod, err := clientset.CoreV1().Pods("agentrun-test").Get(context.Background(), "agentrun-s1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s1", pod.Labels[sessionLabel])
	assert.Equal(t, "true", pod.Labels[managedLabel])
	require.Len(t, pod.Spec.Containers, 1)
	assert.Equal(t, []corev1.EnvVar{{Name: "SECRET_TOKEN", Value: "tok"}}, pod.Spec.Containers[0].Env)

	svc, err := clientset.CoreV1().Services("agentrun-test").Get(context.Background(), "agentrun-s1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.ServiceTypeNodePort, svc.Spec.Type)
	assert.Equal(t, map[string]string{sessionLabel: "s1"}, svc.Spec.Selector)
}

func TestCreateNoNodesFails(t *testing.T) {
	d, clientset := newTestDriver(t)

	_, err := d.Create(context.Background(), driver.CreateRequest{
		SessionID:    "s1",
		Image:        "agentrun/sandbox-base:latest",
		ServicePorts: []int{8090},
	})
	require.Error(t, err)

	// Pod and service must not survive a failed create.
	_, err = clientset.CoreV1().Pods("agentrun-test").Get(context.Background(), "agentrun-s1", metav1.GetOptions{})
	assert.Error(t, err)
	_, err = clientset.CoreV1().Services("agentrun-test").Get(context.Background(), "agentrun-s1", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestStatusMapsPhases(t *testing.T) {
	tests := []struct {
		phase corev1.PodPhase
		want  types.ContainerState
	}{
		{corev1.PodPending, types.ContainerStateCreating},
		{corev1.PodRunning, types.ContainerStateRunning},
		{corev1.PodSucceeded, types.ContainerStateExited},
		{corev1.PodFailed, types.ContainerStateExited},
	}
	for _, tt := range tests {
		pod := &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "agentrun-s1", Namespace: "agentrun-test"},
			Status:     corev1.PodStatus{Phase: tt.phase},
		}
		d, _ := newTestDriver(t, pod)
		state, attrs, err := d.Status(context.Background(), "agentrun-s1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, state, "phase %s", tt.phase)
		assert.Equal(t, string(tt.phase), attrs["phase"])
	}
}

func TestStatusVanishedPodIsUnknown(t *testing.T) {
	d, _ := newTestDriver(t)
	state, attrs, err := d.Status(context.Background(), "agentrun-gone")
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStateUnknown, state)
	assert.Nil(t, attrs)
}

func TestRemoveDeletesServiceBeforePod(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "agentrun-s1", Namespace: "agentrun-test"}}
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "agentrun-s1", Namespace: "agentrun-test"}}
	d, clientset := newTestDriver(t, pod, svc)

	require.NoError(t, d.Remove(context.Background(), "agentrun-s1", false))

	var deletes []string
	for _, action := range clientset.Actions() {
		if action.GetVerb() == "delete" {
			deletes = append(deletes, action.GetResource().Resource)
		}
	}
	assert.Equal(t, []string{"services", "pods"}, deletes)
}

func TestRemoveVanishedIsNoError(t *testing.T) {
	d, _ := newTestDriver(t)
	assert.NoError(t, d.Remove(context.Background(), "agentrun-gone", true))
}

func TestStopVanishedIsNoError(t *testing.T) {
	d, _ := newTestDriver(t)
	assert.NoError(t, d.Stop(context.Background(), "agentrun-gone", nil))
}

func TestWaitForReadyImmediate(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "agentrun-s1", Namespace: "agentrun-test"},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{Name: containerName, Ready: true}},
		},
	}
	d, _ := newTestDriver(t, pod)

	err := d.WaitForReady(context.Background(), &driver.CreateResult{Handle: "agentrun-s1"}, 5*time.Second)
	assert.NoError(t, err)
}

func TestWaitForReadyFailedPod(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "agentrun-s1", Namespace: "agentrun-test"},
		Status:     corev1.PodStatus{Phase: corev1.PodFailed, Reason: "Evicted"},
	}
	d, _ := newTestDriver(t, pod)

	err := d.WaitForReady(context.Background(), &driver.CreateResult{Handle: "agentrun-s1"}, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evicted")
}

func TestListFiltersManagedPods(t *testing.T) {
	managed := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "agentrun-s1",
			Namespace: "agentrun-test",
			Labels:    map[string]string{managedLabel: "true", sessionLabel: "s1"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	other := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: "agentrun-test"},
	}
	d, _ := newTestDriver(t, managed, other)

	instances, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "s1", instances[0].SessionID)
	assert.Equal(t, types.ContainerStateRunning, instances[0].State)
}

func TestPickNodeAddress(t *testing.T) {
	external := testNode("ext",
		corev1.NodeAddress{Type: corev1.NodeInternalIP, Address: "10.0.0.5"},
		corev1.NodeAddress{Type: corev1.NodeExternalIP, Address: "203.0.113.9"},
	)
	internalOnly := testNode("int",
		corev1.NodeAddress{Type: corev1.NodeInternalIP, Address: "10.0.0.6"},
	)

	assert.Equal(t, "203.0.113.9", pickNodeAddress([]corev1.Node{*internalOnly, *external}))
	assert.Equal(t, "10.0.0.6", pickNodeAddress([]corev1.Node{*internalOnly}))
	assert.Equal(t, "", pickNodeAddress(nil))
}

func TestPodReady(t *testing.T) {
	pod := &corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning}}
	assert.False(t, podReady(pod), "no container statuses yet")

	pod.Status.ContainerStatuses = []corev1.ContainerStatus{{Ready: false}}
	assert.False(t, podReady(pod))

	pod.Status.ContainerStatuses[0].Ready = true
	assert.True(t, podReady(pod))

	pod.Status.Phase = corev1.PodPending
	assert.False(t, podReady(pod))
}

func TestTolerationsPassthrough(t *testing.T) {
	got := tolerations([]config.Toleration{
		{Key: "gpu", Operator: "Exists", Effect: "NoSchedule"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, corev1.Toleration{
		Key:      "gpu",
		Operator: corev1.TolerationOpExists,
		Effect:   corev1.TaintEffectNoSchedule,
	}, got[0])
}
