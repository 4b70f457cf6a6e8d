// Package k8s wraps Kubernetes pod-per-session provisioning for the
// BROWSER_RUNNER=kubernetes variant of C3 (internal/browsersession).
package k8s

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	clientOnce sync.Once
	client     *kubernetes.Clientset
	clientErr  error

	configuredNamespace  string
	configuredKubeconfig string
)

// Configure sets the namespace and kubeconfig path to use for subsequent
// GetClient/GetNamespace calls. Call once at startup before provisioning
// any browser pods.
func Configure(namespace, kubeconfig string) {
	configuredNamespace = namespace
	configuredKubeconfig = kubeconfig
}

// GetNamespace returns the configured namespace, falling back to the
// in-cluster service account namespace, then "default".
func GetNamespace() string {
	if configuredNamespace != "" {
		return configuredNamespace
	}
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return string(data)
	}
	return "default"
}

// GetClient returns a Kubernetes clientset, initializing it if necessary.
// It tries in-cluster config first, then falls back to a kubeconfig file.
func GetClient() (*kubernetes.Clientset, error) {
	clientOnce.Do(func() {
		config, err := rest.InClusterConfig()
		if err != nil {
			config, err = buildConfigFromKubeconfig()
			if err != nil {
				clientErr = fmt.Errorf("build kubernetes config: %w", err)
				return
			}
		}

		client, clientErr = kubernetes.NewForConfig(config)
		if clientErr != nil {
			clientErr = fmt.Errorf("create kubernetes client: %w", clientErr)
		}
	})

	return client, clientErr
}

func buildConfigFromKubeconfig() (*rest.Config, error) {
	kubeconfigPath := configuredKubeconfig
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("build config from kubeconfig at %s: %w", kubeconfigPath, err)
	}
	return config, nil
}

// ResetClient resets the client singleton; used by tests.
func ResetClient() {
	clientOnce = sync.Once{}
	client = nil
	clientErr = nil
	configuredNamespace = ""
	configuredKubeconfig = ""
}
