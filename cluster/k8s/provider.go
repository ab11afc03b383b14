package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "orchestration-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=orchestration-worker"
	defaultAnnotationPrefix = "orchestration.bcorn.dev/"
)

// Provider implements cluster.Store on Kubernetes primitives. Worker
// membership lives as annotations on the worker Pods, found through a
// label selector; leader election goes through a coordination/v1 Lease.
// Run state still needs a run store; this replaces only the cluster
// tables for deployments that already have an API server to lean on.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider for the given namespace.
// Options override the lease name, label selector, annotation prefix,
// and logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Worker membership (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterWorker annotates the worker's own Pod with its metadata. The
// Pod is addressed by the worker's Hostname, which in a Kubernetes
// deployment is the pod name.
func (p *Provider) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	pods := p.client.CoreV1().Pods(p.namespace)

	pod, err := pods.Get(ctx, w.Hostname, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q not found: %w", w.Hostname, orchestration.ErrWorkerNotFound)
		}
		return fmt.Errorf("k8s: register worker: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.annotateWorker(pod, w)

	if _, err = pods.Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker strips the orchestrator annotations from the
// worker's Pod, removing it from membership without touching the Pod
// itself.
func (p *Provider) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podForWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return orchestration.ErrWorkerNotFound
	}

	p.stripAnnotations(pod)

	if _, err = p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker refreshes the last-seen annotation.
func (p *Provider) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podForWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return orchestration.ErrWorkerNotFound
	}

	pod.Annotations[p.annotationPrefix+"last-seen"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err = p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers scans the selected Pods and returns every one carrying
// worker annotations, with the current leader annotated from the Lease.
func (p *Provider) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	pods, err := p.selectedPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("k8s: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(pods))
	for _, pod := range pods {
		w, convErr := p.podToWorker(pod)
		if convErr != nil {
			continue
		}
		workers = append(workers, w)
	}

	if markErr := p.markLeader(ctx, workers); markErr != nil {
		return nil, markErr
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last heartbeat predates the
// threshold.
func (p *Provider) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	all, err := p.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range all {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// AcquireLeadership takes the Lease when it does not exist, lapsed, or
// is already held by the caller.
func (p *Provider) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)
	wID := workerID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := leases.Get(ctx, p.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		created := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: p.leaseName, Namespace: p.namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &wID,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, createErr := leases.Create(ctx, created, metav1.CreateOptions{}); createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				// Lost the creation race.
				return false, nil
			}
			return false, fmt.Errorf("k8s: acquire leadership: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: acquire leadership: %w", err)
	}

	if holder := leaseHolder(lease); holder != "" && holder != wID {
		return false, nil
	}

	lease.Spec.HolderIdentity = &wID
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now

	if _, err = leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("k8s: acquire leadership: %w", err)
	}
	return true, nil
}

// RenewLeadership pushes the Lease renew time forward. Only the current
// holder renews; anyone else gets false.
func (p *Provider) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)
	wID := workerID.String()

	lease, err := leases.Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew leadership: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != wID {
		return false, nil
	}

	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err = leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("k8s: renew leadership: %w", err)
	}
	return true, nil
}

// GetLeader resolves the Lease holder back to its worker, with IsLeader
// and LeaderUntil set. A lapsed or empty Lease yields nil. When the
// holder's Pod is gone the Lease still names a live leader, so a minimal
// worker record comes back rather than nil.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8s: get leader: %w", err)
	}

	holder := leaseHolder(lease)
	if holder == "" {
		return nil, nil
	}
	until, _ := leaseDeadline(lease)

	var w *cluster.Worker
	if pod, findErr := p.podForWorker(ctx, holder); findErr == nil && pod != nil {
		w, _ = p.podToWorker(pod) //nolint:errcheck // falls through to the minimal record
	}
	if w == nil {
		wID, parseErr := id.ParseWorkerID(holder)
		if parseErr != nil {
			return nil, nil
		}
		w = &cluster.Worker{ID: wID}
	}

	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// ──────────────────────────────────────────────────
// Pod lookup
// ──────────────────────────────────────────────────

// selectedPods lists the Pods matching the worker label selector.
func (p *Provider) selectedPods(ctx context.Context) ([]*corev1.Pod, error) {
	list, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, err
	}

	pods := make([]*corev1.Pod, 0, len(list.Items))
	for i := range list.Items {
		pods = append(pods, &list.Items[i])
	}
	return pods, nil
}

// podForWorker finds the Pod whose worker-id annotation matches, or nil.
func (p *Provider) podForWorker(ctx context.Context, workerID string) (*corev1.Pod, error) {
	pods, err := p.selectedPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("k8s: find worker pod: %w", err)
	}

	for _, pod := range pods {
		if pod.Annotations[p.annotationPrefix+"worker-id"] == workerID {
			return pod, nil
		}
	}
	return nil, nil
}

// markLeader annotates the current leader in a worker list.
func (p *Provider) markLeader(ctx context.Context, workers []*cluster.Worker) error {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("k8s: read leader lease: %w", err)
	}

	holder := leaseHolder(lease)
	if holder == "" {
		return nil
	}
	until, _ := leaseDeadline(lease)

	for _, w := range workers {
		if w.ID.String() == holder {
			w.IsLeader = true
			leaderUntil := until
			w.LeaderUntil = &leaderUntil
		}
	}
	return nil
}
