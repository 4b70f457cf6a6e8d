package browsersession

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/zk1tty/wf-backend/internal/k8s"
)

// K8sRunner provisions one browser pod per session and drives it over the
// Chrome DevTools Protocol via chromedp's remote allocator — the same role
// the teacher's Kubernetes runner played provisioning an app pod and
// reaching it over GetPodWebSocketEndpoint, with CDP standing in for VNC.
type K8sRunner struct {
	PodReadyTimeout time.Duration
}

func NewK8sRunner() *K8sRunner {
	return &K8sRunner{PodReadyTimeout: DefaultStartTimeout}
}

func (r *K8sRunner) Start(ctx context.Context, sessionID string) (BrowserSession, error) {
	podConfig := k8s.DefaultPodConfig(sessionID)
	pod := k8s.BuildPodSpec(podConfig)

	created, err := k8s.CreatePod(ctx, pod)
	if err != nil {
		return nil, fmt.Errorf("create browser pod for session %s: %w", sessionID, err)
	}

	timeout := r.PodReadyTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if err := k8s.WaitForPodReady(ctx, created.Name, timeout); err != nil {
		_ = k8s.DeletePod(context.Background(), created.Name)
		return nil, fmt.Errorf("wait for browser pod %s ready: %w", created.Name, err)
	}

	wsURL, err := k8s.CDPEndpoint(ctx, created.Name)
	if err != nil {
		_ = k8s.DeletePod(context.Background(), created.Name)
		return nil, fmt.Errorf("resolve cdp endpoint for pod %s: %w", created.Name, err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		_ = k8s.DeletePod(context.Background(), created.Name)
		return nil, fmt.Errorf("attach to remote browser for session %s: %w", sessionID, err)
	}

	return &localBrowser{
		sessionID:   sessionID,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		podName:     created.Name,
		mouse:       &localMouse{},
		keyboard:    &localKeyboard{},
	}, nil
}

func (r *K8sRunner) Healthy(ctx context.Context) error {
	_, err := k8s.GetClient()
	return err
}

func (r *K8sRunner) Close() error { return nil }
