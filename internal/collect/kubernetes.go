package collect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const defaultMaxEvents = 15

// KubernetesCollector reports cluster health: pods that are not
// running cleanly, recent warning events, and node conditions.
type KubernetesCollector struct {
	client     kubernetes.Interface
	namespaces []string
	maxEvents  int
}

// KubernetesOption configures a KubernetesCollector.
type KubernetesOption func(*KubernetesCollector)

// WithNamespaces restricts collection to the given namespaces. The
// default is all namespaces.
func WithNamespaces(namespaces ...string) KubernetesOption {
	return func(c *KubernetesCollector) { c.namespaces = namespaces }
}

// WithMaxEvents caps the number of warning events reported per cycle.
func WithMaxEvents(n int) KubernetesOption {
	return func(c *KubernetesCollector) { c.maxEvents = n }
}

// NewKubernetesCollector creates a collector on an existing clientset.
func NewKubernetesCollector(client kubernetes.Interface, opts ...KubernetesOption) *KubernetesCollector {
	c := &KubernetesCollector{
		client:    client,
		maxEvents: defaultMaxEvents,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectKubernetes builds a collector from a kubeconfig path, falling
// back to in-cluster configuration when the path is empty.
func ConnectKubernetes(kubeconfig string, opts ...KubernetesOption) (*KubernetesCollector, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewKubernetesCollector(client, opts...), nil
}

func (c *KubernetesCollector) Name() string { return "kubernetes" }

// Collect renders a compact plaintext report of everything that looks
// unhealthy, plus a one-line summary of totals.
func (c *KubernetesCollector) Collect(ctx context.Context) (string, error) {
	var b strings.Builder

	podsTotal, podLines, err := c.podReport(ctx)
	if err != nil {
		return "", err
	}
	if len(podLines) > 0 {
		fmt.Fprintf(&b, "Pods not running cleanly (%d):\n", len(podLines))
		for _, line := range podLines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	eventLines, err := c.eventReport(ctx)
	if err != nil {
		return "", err
	}
	if len(eventLines) > 0 {
		fmt.Fprintf(&b, "Warning events (%d):\n", len(eventLines))
		for _, line := range eventLines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	nodesTotal, nodeLines, err := c.nodeReport(ctx)
	if err != nil {
		return "", err
	}
	if len(nodeLines) > 0 {
		fmt.Fprintf(&b, "Node conditions (%d):\n", len(nodeLines))
		for _, line := range nodeLines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	fmt.Fprintf(&b, "Summary: %d/%d pods healthy, %d/%d nodes ready",
		podsTotal-len(podLines), podsTotal, nodesTotal-len(nodeLines), nodesTotal)
	return b.String(), nil
}

func (c *KubernetesCollector) scanNamespaces() []string {
	if len(c.namespaces) == 0 {
		return []string{metav1.NamespaceAll}
	}
	return c.namespaces
}

// podReport flags pods whose phase is not Running or Succeeded, and
// running pods with a waiting container. Restart counts ride along so
// the model sees crash loops.
func (c *KubernetesCollector) podReport(ctx context.Context) (int, []string, error) {
	var (
		total int
		lines []string
	)
	for _, ns := range c.scanNamespaces() {
		pods, err := c.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			return 0, nil, fmt.Errorf("list pods: %w", err)
		}
		for _, pod := range pods.Items {
			if pod.Status.Phase == corev1.PodSucceeded {
				continue
			}
			total++

			reason := ""
			restarts := int32(0)
			for _, cs := range pod.Status.ContainerStatuses {
				restarts += cs.RestartCount
				if cs.State.Waiting != nil && reason == "" {
					reason = cs.State.Waiting.Reason
				}
			}

			if pod.Status.Phase == corev1.PodRunning && reason == "" {
				continue
			}
			line := fmt.Sprintf("%s/%s %s", pod.Namespace, pod.Name, pod.Status.Phase)
			if reason != "" {
				line += " " + reason
			}
			lines = append(lines, fmt.Sprintf("%s restarts=%d", line, restarts))
		}
	}
	return total, lines, nil
}

// eventReport returns the most recent warning events, newest first.
func (c *KubernetesCollector) eventReport(ctx context.Context) ([]string, error) {
	var warnings []corev1.Event
	for _, ns := range c.scanNamespaces() {
		events, err := c.client.CoreV1().Events(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		for _, ev := range events.Items {
			if ev.Type == corev1.EventTypeWarning {
				warnings = append(warnings, ev)
			}
		}
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].LastTimestamp.Time.After(warnings[j].LastTimestamp.Time)
	})
	if len(warnings) > c.maxEvents {
		warnings = warnings[:c.maxEvents]
	}

	lines := make([]string, 0, len(warnings))
	for _, ev := range warnings {
		lines = append(lines, fmt.Sprintf("%s %s/%s: %s",
			ev.Reason, strings.ToLower(ev.InvolvedObject.Kind), ev.InvolvedObject.Name, ev.Message))
	}
	return lines, nil
}

// nodeReport flags nodes that are not Ready or report pressure, one
// line per unhealthy node.
func (c *KubernetesCollector) nodeReport(ctx context.Context) (int, []string, error) {
	nodes, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("list nodes: %w", err)
	}

	var lines []string
	for _, node := range nodes.Items {
		var flags []string
		for _, cond := range node.Status.Conditions {
			switch cond.Type {
			case corev1.NodeReady:
				if cond.Status != corev1.ConditionTrue {
					flags = append(flags, "NotReady")
				}
			case corev1.NodeMemoryPressure, corev1.NodeDiskPressure, corev1.NodePIDPressure:
				if cond.Status == corev1.ConditionTrue {
					flags = append(flags, string(cond.Type))
				}
			}
		}
		if len(flags) > 0 {
			lines = append(lines, fmt.Sprintf("%s %s", node.Name, strings.Join(flags, ",")))
		}
	}
	return len(nodes.Items), lines, nil
}
