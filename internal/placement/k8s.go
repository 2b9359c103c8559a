package placement

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/transport"
)

// K8sConfig parameterizes the Pod-based worker backend.
type K8sConfig struct {
	Namespace string
	Image     string

	// NATSURL is handed to the worker Pod so it can reach the cluster
	// transport the main node is on.
	NATSURL string
}

// K8sLauncher runs dedicated worker nodes as Kubernetes Pods instead of
// child processes: one Pod per dedicated cospace, deleted again when the
// placement fails or the cospace terminates.
type K8sLauncher struct {
	clientset kubernetes.Interface
	cfg       K8sConfig
	t         *transport.Transport
	registrar *transport.Registrar
	log       zerolog.Logger

	nextNodeID atomic.Uint32
}

// NewK8sClientset builds a clientset from in-cluster config, falling
// back to the default kubeconfig for out-of-cluster development.
func NewK8sClientset() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loading := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loading, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("placement: kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(restCfg)
}

// NewK8sLauncher builds a Pod-backed launcher. firstNodeID follows the
// same convention as the process launcher.
func NewK8sLauncher(clientset kubernetes.Interface, cfg K8sConfig, firstNodeID uint32, t *transport.Transport, registrar *transport.Registrar, log zerolog.Logger) *K8sLauncher {
	l := &K8sLauncher{
		clientset: clientset,
		cfg:       cfg,
		t:         t,
		registrar: registrar,
		log:       log,
	}
	l.nextNodeID.Store(firstNodeID - 1)
	return l
}

func (l *K8sLauncher) podName(nodeID uint32) string {
	return fmt.Sprintf("realtime-worker-%d", nodeID)
}

// Launch implements manager.WorkerLauncher against the Kubernetes API:
// create the worker Pod, wait for its node manager to register over
// NATS, and hand back a client for it.
func (l *K8sLauncher) Launch(ctx context.Context) (uint32, manager.NodeClient, error) {
	nodeID := l.nextNodeID.Add(1)
	name := l.podName(nodeID)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: l.cfg.Namespace,
			Labels: map[string]string{
				"app":     "realtime-worker",
				"node-id": strconv.FormatUint(uint64(nodeID), 10),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  "worker",
					Image: l.cfg.Image,
					Args:  []string{"--node-id", strconv.FormatUint(uint64(nodeID), 10)},
					Env: []corev1.EnvVar{
						{Name: "NATS_URL", Value: l.cfg.NATSURL},
					},
				},
			},
		},
	}

	if _, err := l.clientset.CoreV1().Pods(l.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return 0, nil, fmt.Errorf("placement: create worker pod %s: %w", name, err)
	}
	l.log.Info().Uint32("node_id", nodeID).Str("pod", name).Msg("worker_pod_created")

	waitCtx, cancel := context.WithTimeout(ctx, RegistrationTimeout)
	defer cancel()
	if err := l.registrar.WaitFor(waitCtx, nodeID); err != nil {
		_ = l.Shutdown(ctx, nodeID)
		return 0, nil, err
	}

	return nodeID, l.t.NodeClient(nodeID), nil
}

// Shutdown deletes the worker Pod.
func (l *K8sLauncher) Shutdown(ctx context.Context, nodeID uint32) error {
	l.registrar.Forget(nodeID)
	policy := metav1.DeletePropagationForeground
	err := l.clientset.CoreV1().Pods(l.cfg.Namespace).Delete(ctx, l.podName(nodeID), metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil {
		l.log.Warn().Err(err).Uint32("node_id", nodeID).Msg("worker_pod_delete_failed")
		return fmt.Errorf("placement: delete worker pod: %w", err)
	}
	return nil
}
