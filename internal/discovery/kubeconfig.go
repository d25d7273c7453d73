package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewK8sClientsetFromConfig is a package-level variable for creating a
// clientset from a rest.Config. Exported to allow overriding in tests.
var NewK8sClientsetFromConfig = func(c *rest.Config) (kubernetes.Interface, error) {
	return kubernetes.NewForConfig(c)
}

// CurrentContext retrieves the name of the currently active kubeconfig
// context.
func CurrentContext() (string, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	cfg, err := pathOptions.GetStartingConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if cfg.CurrentContext == "" {
		return "", fmt.Errorf("current kubeconfig context is not set")
	}
	return cfg.CurrentContext, nil
}

// AvailableContexts returns the names of all contexts in the kubeconfig,
// sorted.
func AvailableContexts() ([]string, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	cfg, err := pathOptions.GetStartingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	contexts := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		contexts = append(contexts, name)
	}
	sort.Strings(contexts)
	return contexts, nil
}

// SwitchContext changes the active kubeconfig context, preserving the rest of
// the config file.
func SwitchContext(contextName string) error {
	pathOptions := clientcmd.NewDefaultPathOptions()
	cfg, err := pathOptions.GetStartingConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	if _, exists := cfg.Contexts[contextName]; !exists {
		return fmt.Errorf("context %q does not exist in kubeconfig", contextName)
	}

	cfg.CurrentContext = contextName

	kubeconfigPath := pathOptions.GetDefaultFilename()
	if pathOptions.IsExplicitFile() {
		kubeconfigPath = pathOptions.GetExplicitFile()
	}

	if err := clientcmd.WriteToFile(*cfg, kubeconfigPath); err != nil {
		return fmt.Errorf("failed to write updated kubeconfig to %q: %w", kubeconfigPath, err)
	}
	return nil
}

// ClusterNodeHealth counts ready and total nodes in the cluster the given
// context points at. An empty context name uses the current context.
func ClusterNodeHealth(ctx context.Context, contextName string) (NodeHealth, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}

	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return NodeHealth{}, fmt.Errorf("failed to get REST config for context %q: %w", contextName, err)
	}
	restConfig.Timeout = 15 * time.Second

	clientset, err := NewK8sClientsetFromConfig(restConfig)
	if err != nil {
		return NodeHealth{}, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	nodeList, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return NodeHealth{}, fmt.Errorf("failed to list nodes: %w", err)
	}

	health := NodeHealth{TotalNodes: len(nodeList.Items)}
	for _, node := range nodeList.Items {
		for _, condition := range node.Status.Conditions {
			if condition.Type == corev1.NodeReady && condition.Status == corev1.ConditionTrue {
				health.ReadyNodes++
				break
			}
		}
	}
	return health, nil
}
