package placement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// NewMetricsClientset builds a metrics API client from in-cluster
// config, falling back to the default kubeconfig.
func NewMetricsClientset() (metricsclient.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loading := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loading, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("placement: kubernetes config: %w", err)
		}
	}
	return metricsclient.NewForConfig(restCfg)
}

// PressureMonitor samples node resource usage from the Kubernetes
// metrics API and answers the placement policy's one question: is the
// cluster too loaded to absorb another shared-pool cospace? It feeds
// the resource-aware policy's NodePressure hook.
type PressureMonitor struct {
	metrics  metricsclient.Interface
	interval time.Duration

	// cpuThresholdMilli is the mean per-node CPU usage, in millicores,
	// above which the cluster counts as under pressure.
	cpuThresholdMilli int64

	log zerolog.Logger

	mu       sync.RWMutex
	pressure bool
}

// NewPressureMonitor builds a monitor sampling every interval.
func NewPressureMonitor(metrics metricsclient.Interface, interval time.Duration, cpuThresholdMilli int64, log zerolog.Logger) *PressureMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PressureMonitor{
		metrics:           metrics,
		interval:          interval,
		cpuThresholdMilli: cpuThresholdMilli,
		log:               log,
	}
}

// Run samples until ctx is cancelled; start it in its own goroutine.
func (m *PressureMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// Pressure reports the last sampled verdict. Safe from any goroutine;
// the zero value (no pressure) stands until the first sample lands.
func (m *PressureMonitor) Pressure() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pressure
}

func (m *PressureMonitor) sample(ctx context.Context) {
	nodes, err := m.metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		m.log.Warn().Err(err).Msg("node_metrics_unavailable")
		return
	}
	if len(nodes.Items) == 0 {
		return
	}

	var totalMilli int64
	for _, n := range nodes.Items {
		totalMilli += n.Usage.Cpu().MilliValue()
	}
	mean := totalMilli / int64(len(nodes.Items))

	m.mu.Lock()
	m.pressure = mean >= m.cpuThresholdMilli
	m.mu.Unlock()

	m.log.Debug().Int64("mean_cpu_milli", mean).Bool("pressure", mean >= m.cpuThresholdMilli).
		Msg("node_pressure_sampled")
}
