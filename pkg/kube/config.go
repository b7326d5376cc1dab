package kube

import (
	"os"
	"path/filepath"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Config detects *rest.Config.
//
// It searches kubeconfig from (latter is prior)
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - kubeconfig (argument)
//
// When no files are found from above, it tries to use in-cluster config.
func Config(kubeconfig string) (*rest.Config, error) {
	candidates := []string{kubeconfig, os.Getenv("KUBECONFIG")}
	if home := homedir.HomeDir(); home != "" {
		candidates = append(candidates, filepath.Join(home, ".kube", "config"))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if stat, err := os.Stat(c); err != nil || stat.IsDir() {
			continue
		}
		return clientcmd.BuildConfigFromFlags("", c)
	}

	return rest.InClusterConfig()
}
