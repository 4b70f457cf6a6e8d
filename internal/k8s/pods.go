package k8s

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultBrowserImage is used when PodConfig.BrowserImage is empty.
	DefaultBrowserImage = "ghcr.io/chromedp/headless-shell:latest"

	// SessionLabelKey identifies which visual session a pod belongs to.
	SessionLabelKey = "wf-backend.io/session-id"

	// ComponentLabelKey marks the pod as a browser-runner pod, so
	// ListSessionPods doesn't pick up unrelated pods in the namespace.
	ComponentLabelKey = "app.kubernetes.io/component"

	// componentLabelValue is ComponentLabelKey's value for browser pods.
	componentLabelValue = "browser-session"

	// cdpPort is the Chrome DevTools Protocol debugging port exposed by
	// the browser container, reached the same way the teacher's VNC
	// sidecar exposed its websocket port over GetPodWebSocketEndpoint.
	cdpPort = 9222
)

// PodConfig configures a single-container browser pod for one session.
type PodConfig struct {
	SessionID     string
	BrowserImage  string
	CPULimit      string
	MemoryLimit   string
	CPURequest    string
	MemoryRequest string
}

// configuredBrowserImage overrides DefaultBrowserImage when set via
// ConfigureBrowserImage, mirroring the teacher's sidecar-image
// configuration knobs (ConfigureGuacdSidecar).
var configuredBrowserImage string

// ConfigureBrowserImage sets the image DefaultPodConfig uses for new
// browser pods. An empty image leaves DefaultBrowserImage in effect.
func ConfigureBrowserImage(image string) {
	configuredBrowserImage = image
}

// DefaultPodConfig returns a PodConfig with sensible resource defaults for
// running one headless Chrome instance.
func DefaultPodConfig(sessionID string) *PodConfig {
	image := configuredBrowserImage
	if image == "" {
		image = DefaultBrowserImage
	}
	return &PodConfig{
		SessionID:     sessionID,
		BrowserImage:  image,
		CPULimit:      "1",
		MemoryLimit:   "1Gi",
		CPURequest:    "250m",
		MemoryRequest: "256Mi",
	}
}

// BuildPodSpec creates the Kubernetes Pod spec for a session's browser.
func BuildPodSpec(config *PodConfig) *corev1.Pod {
	image := config.BrowserImage
	if image == "" {
		image = DefaultBrowserImage
	}

	podName := fmt.Sprintf("wf-session-%s", config.SessionID)

	cpuLimit := resource.MustParse(config.CPULimit)
	memoryLimit := resource.MustParse(config.MemoryLimit)
	cpuRequest := resource.MustParse(config.CPURequest)
	memoryRequest := resource.MustParse(config.MemoryRequest)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: GetNamespace(),
			Labels: map[string]string{
				SessionLabelKey:   config.SessionID,
				ComponentLabelKey: componentLabelValue,
			},
			Annotations: map[string]string{
				"wf-backend.io/created-at": time.Now().UTC().Format(time.RFC3339),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: boolPtr(true),
				RunAsUser:    int64Ptr(1000),
				RunAsGroup:   int64Ptr(1000),
				FSGroup:      int64Ptr(1000),
			},
			Containers: []corev1.Container{
				{
					Name:  "browser",
					Image: image,
					Ports: []corev1.ContainerPort{
						{Name: "cdp", ContainerPort: cdpPort, Protocol: corev1.ProtocolTCP},
					},
					Env: []corev1.EnvVar{
						{Name: "SESSION_ID", Value: config.SessionID},
					},
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    cpuLimit,
							corev1.ResourceMemory: memoryLimit,
						},
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    cpuRequest,
							corev1.ResourceMemory: memoryRequest,
						},
					},
					SecurityContext: &corev1.SecurityContext{
						AllowPrivilegeEscalation: boolPtr(false),
						ReadOnlyRootFilesystem:   boolPtr(false),
						Capabilities: &corev1.Capabilities{
							Drop: []corev1.Capability{"ALL"},
						},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							TCPSocket: &corev1.TCPSocketAction{
								Port: intstr.FromInt(cdpPort),
							},
						},
						InitialDelaySeconds: 1,
						PeriodSeconds:       2,
						TimeoutSeconds:      2,
						SuccessThreshold:    1,
						FailureThreshold:    15,
					},
					LivenessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							TCPSocket: &corev1.TCPSocketAction{
								Port: intstr.FromInt(cdpPort),
							},
						},
						InitialDelaySeconds: 10,
						PeriodSeconds:       30,
						TimeoutSeconds:      5,
						SuccessThreshold:    1,
						FailureThreshold:    3,
					},
				},
			},
		},
	}

	return pod
}

// CreatePod creates a new browser pod in the cluster.
func CreatePod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}

	return client.CoreV1().Pods(GetNamespace()).Create(ctx, pod, metav1.CreateOptions{})
}

// DeletePod deletes a pod by name.
func DeletePod(ctx context.Context, podName string) error {
	client, err := GetClient()
	if err != nil {
		return err
	}

	return client.CoreV1().Pods(GetNamespace()).Delete(ctx, podName, metav1.DeleteOptions{})
}

// GetPod retrieves a pod by name.
func GetPod(ctx context.Context, podName string) (*corev1.Pod, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}

	return client.CoreV1().Pods(GetNamespace()).Get(ctx, podName, metav1.GetOptions{})
}

// WaitForPodReady blocks until the pod's CDP container reports ready or
// timeout elapses.
func WaitForPodReady(ctx context.Context, podName string, timeout time.Duration) error {
	client, err := GetClient()
	if err != nil {
		return err
	}

	return wait.PollUntilContextTimeout(ctx, 1*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := client.CoreV1().Pods(GetNamespace()).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}

		for _, condition := range pod.Status.Conditions {
			if condition.Type == corev1.PodReady && condition.Status == corev1.ConditionTrue {
				return true, nil
			}
		}

		if pod.Status.Phase == corev1.PodFailed || pod.Status.Phase == corev1.PodSucceeded {
			return false, fmt.Errorf("pod %s is in terminal state: %s", podName, pod.Status.Phase)
		}

		return false, nil
	})
}

// GetPodIP returns the pod's in-cluster IP address.
func GetPodIP(ctx context.Context, podName string) (string, error) {
	pod, err := GetPod(ctx, podName)
	if err != nil {
		return "", err
	}

	if pod.Status.PodIP == "" {
		return "", fmt.Errorf("pod %s has no IP address yet", podName)
	}

	return pod.Status.PodIP, nil
}

// CDPEndpoint returns the ws:// debugging endpoint for a ready pod, the
// same role the teacher's GetPodWebSocketEndpoint played for VNC.
func CDPEndpoint(ctx context.Context, podName string) (string, error) {
	ip, err := GetPodIP(ctx, podName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ws://%s:%d", ip, cdpPort), nil
}

// ListSessionPods lists all pods belonging to this system's browser sessions.
func ListSessionPods(ctx context.Context) (*corev1.PodList, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}

	return client.CoreV1().Pods(GetNamespace()).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s,%s=%s", SessionLabelKey, ComponentLabelKey, componentLabelValue),
	})
}

func boolPtr(b bool) *bool {
	return &b
}

func int64Ptr(i int64) *int64 {
	return &i
}
