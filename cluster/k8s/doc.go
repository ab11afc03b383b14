// Package k8s implements cluster.Store on top of the Kubernetes API.
//
// Workers are discovered from Pod annotations matching a label selector,
// so each orchestrator pod registers itself by annotating its own Pod.
// Leader election goes through a coordination/v1 Lease object, the same
// primitive kube-controller-manager uses.
//
// Wire it into an engine like any other cluster store:
//
//	cfg, _ := rest.InClusterConfig()
//	provider := k8s.New(kubernetes.NewForConfigOrDie(cfg), "orchestration",
//		k8s.WithLeaseName("orchestration-leader"))
package k8s
