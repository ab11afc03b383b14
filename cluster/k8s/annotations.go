package k8s

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Worker fields ride on the Pod as prefixed annotations. The suffixes
// below are the full set; stripAnnotations must cover every key
// annotateWorker writes.
var annotationKeys = []string{
	"worker-id", "hostname", "concurrency", "state",
	"last-seen", "created-at", "workflows", "metadata",
}

// annotateWorker writes the worker's fields onto the Pod. Leadership is
// never annotated; the Lease object is the only source of truth for it.
func (p *Provider) annotateWorker(pod *corev1.Pod, w *cluster.Worker) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"worker-id"] = w.ID.String()
	a[prefix+"hostname"] = w.Hostname
	a[prefix+"concurrency"] = strconv.Itoa(w.Concurrency)
	a[prefix+"state"] = string(w.State)
	a[prefix+"last-seen"] = w.LastSeen.Format(time.RFC3339Nano)
	a[prefix+"created-at"] = w.CreatedAt.Format(time.RFC3339Nano)

	if len(w.Workflows) > 0 {
		b, _ := json.Marshal(w.Workflows) //nolint:errcheck // marshal of []string does not fail
		a[prefix+"workflows"] = string(b)
	}
	if len(w.Metadata) > 0 {
		b, _ := json.Marshal(w.Metadata) //nolint:errcheck // marshal of map[string]string does not fail
		a[prefix+"metadata"] = string(b)
	}
}

// stripAnnotations removes every orchestrator annotation from a Pod.
func (p *Provider) stripAnnotations(pod *corev1.Pod) {
	for _, k := range annotationKeys {
		delete(pod.Annotations, p.annotationPrefix+k)
	}
}

// podToWorker reads a worker back out of Pod annotations. Pods without a
// worker-id annotation are not workers.
func (p *Provider) podToWorker(pod *corev1.Pod) (*cluster.Worker, error) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	rawID := a[prefix+"worker-id"]
	if rawID == "" {
		return nil, fmt.Errorf("k8s: pod %q carries no worker-id annotation", pod.Name)
	}
	wID, err := id.ParseWorkerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("k8s: pod %q worker-id: %w", pod.Name, err)
	}

	concurrency, _ := strconv.Atoi(a[prefix+"concurrency"])              //nolint:errcheck // best-effort parse
	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"])   //nolint:errcheck // best-effort parse
	createdAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"created-at"]) //nolint:errcheck // best-effort parse

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    a[prefix+"hostname"],
		Concurrency: concurrency,
		State:       cluster.WorkerState(a[prefix+"state"]),
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}

	if raw := a[prefix+"workflows"]; raw != "" {
		var workflows []string
		if uErr := json.Unmarshal([]byte(raw), &workflows); uErr == nil {
			w.Workflows = workflows
		}
	}
	if raw := a[prefix+"metadata"]; raw != "" {
		meta := make(map[string]string)
		if uErr := json.Unmarshal([]byte(raw), &meta); uErr == nil {
			w.Metadata = meta
		}
	}
	return w, nil
}

// leaseHolder returns the holder identity of a live lease, or "" when the
// lease has no holder or its hold lapsed.
func leaseHolder(lease *coordinationv1.Lease) string {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return ""
	}
	if _, lapsed := leaseDeadline(lease); lapsed {
		return ""
	}
	return *lease.Spec.HolderIdentity
}

// leaseDeadline returns when the hold ends and whether it already has.
// A lease missing its renew time or duration counts as lapsed.
func leaseDeadline(lease *coordinationv1.Lease) (time.Time, bool) {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return time.Time{}, true
	}
	deadline := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return deadline, time.Now().UTC().After(deadline)
}
