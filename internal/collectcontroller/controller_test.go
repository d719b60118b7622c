package collectcontroller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/metrics"
	"github.com/ska-telescope/ska-namespace-manager/internal/nsmatch"
)

func testController(objs ...runtime.Object) (*Controller, *fake.Clientset) {
	clientset := fake.NewSimpleClientset(objs...)
	adapter := k8sapi.NewFromClientset(clientset)

	cfg := config.Config{
		Context: config.Context{Namespace: "manager", Image: "registry/manager:latest"},
		Namespaces: []config.NamespacePolicy{
			{Names: []string{"^dev-.*$"}, TTL: 0},
		},
	}

	return New(adapter, cfg, metrics.New()), clientset
}

func TestAdoptNamespacesCreatesCronJobsJobsAndMarksManaged(t *testing.T) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "dev-alice"}}
	c, clientset := testController(ns)

	if err := c.AdoptNamespaces(context.Background()); err != nil {
		t.Fatalf("AdoptNamespaces() error: %v", err)
	}

	cronJobs, err := clientset.BatchV1().CronJobs("manager").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("listing cronjobs: %v", err)
	}
	if len(cronJobs.Items) != 1 {
		t.Fatalf("len(cronjobs) = %d, want 1", len(cronJobs.Items))
	}

	jobs, err := clientset.BatchV1().Jobs("manager").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("listing jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs.Items))
	}

	updated, err := clientset.CoreV1().Namespaces().Get(context.Background(), "dev-alice", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting namespace: %v", err)
	}
	if updated.Annotations[k8sapi.AnnotationManaged] != "true" {
		t.Errorf("managed annotation = %q, want true", updated.Annotations[k8sapi.AnnotationManaged])
	}
	if updated.Annotations[k8sapi.AnnotationStatus] != string(k8sapi.StatusUnknown) {
		t.Errorf("status annotation = %q, want unknown", updated.Annotations[k8sapi.AnnotationStatus])
	}
}

func TestAdoptNamespacesSkipsUnmatchedNamespace(t *testing.T) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "prod-critical"}}
	c, clientset := testController(ns)

	if err := c.AdoptNamespaces(context.Background()); err != nil {
		t.Fatalf("AdoptNamespaces() error: %v", err)
	}

	updated, err := clientset.CoreV1().Namespaces().Get(context.Background(), "prod-critical", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting namespace: %v", err)
	}
	if updated.Annotations[k8sapi.AnnotationManaged] == "true" {
		t.Errorf("unmatched namespace was adopted")
	}
}

func TestAdoptNamespacesSkipsDenyListedAndOwnNamespace(t *testing.T) {
	c, clientset := testController(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "manager"}},
	)

	if err := c.AdoptNamespaces(context.Background()); err != nil {
		t.Fatalf("AdoptNamespaces() error: %v", err)
	}

	cronJobs, _ := clientset.BatchV1().CronJobs("manager").List(context.Background(), metav1.ListOptions{})
	if len(cronJobs.Items) != 0 {
		t.Errorf("len(cronjobs) = %d, want 0", len(cronJobs.Items))
	}
}

func TestSynchronizeCronJobsDeletesOrphaned(t *testing.T) {
	cj := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "check-namespace-dev-gone",
			Namespace: "manager",
			Annotations: map[string]string{
				k8sapi.AnnotationAction:    actionCheckNamespace,
				k8sapi.AnnotationNamespace: "dev-gone",
			},
		},
	}
	c, clientset := testController(cj)

	if err := c.SynchronizeCronJobs(context.Background()); err != nil {
		t.Fatalf("SynchronizeCronJobs() error: %v", err)
	}

	remaining, _ := clientset.BatchV1().CronJobs("manager").List(context.Background(), metav1.ListOptions{})
	if len(remaining.Items) != 0 {
		t.Errorf("len(remaining cronjobs) = %d, want 0", len(remaining.Items))
	}
}

func TestGenerateMetricsSetsGaugeForManagedNamespaces(t *testing.T) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: "dev-alice",
			Annotations: map[string]string{
				k8sapi.AnnotationManaged: "true",
				k8sapi.AnnotationStatus:  string(k8sapi.StatusFailing),
			},
		},
	}
	c, _ := testController(ns)

	if err := c.GenerateMetrics(context.Background()); err != nil {
		t.Fatalf("GenerateMetrics() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := c.metrics.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if !strings.Contains(string(out), `namespace="dev-alice"`) || !strings.Contains(string(out), "} 2\n") {
		t.Errorf("expected a dev-alice series with the failing code 2, got:\n%s", out)
	}
}

func TestGenerateMetricsRemovesSeriesForVanishedNamespace(t *testing.T) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: "dev-alice",
			Annotations: map[string]string{
				k8sapi.AnnotationManaged: "true",
				k8sapi.AnnotationStatus:  string(k8sapi.StatusOK),
			},
		},
	}
	c, clientset := testController(ns)

	if err := c.GenerateMetrics(context.Background()); err != nil {
		t.Fatalf("GenerateMetrics() first tick error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := c.metrics.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if !strings.Contains(string(before), `namespace="dev-alice"`) {
		t.Fatalf("expected a series for dev-alice after first tick, got:\n%s", before)
	}

	if err := clientset.CoreV1().Namespaces().Delete(context.Background(), "dev-alice", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("deleting namespace: %v", err)
	}

	if err := c.GenerateMetrics(context.Background()); err != nil {
		t.Fatalf("GenerateMetrics() second tick error: %v", err)
	}

	if err := c.metrics.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if strings.Contains(string(after), `namespace="dev-alice"`) {
		t.Errorf("expected dev-alice's series to be removed after it vanished, got:\n%s", after)
	}
}

func TestPolicyForReturnsFalseWhenNoMatcherScores(t *testing.T) {
	c := &Controller{matchers: []nsmatch.Matcher{{Names: []string{"^dev-.*$"}}}}
	_, ok := c.policyFor(k8sapi.Namespace{Name: "prod-x"})
	if ok {
		t.Errorf("policyFor() matched an unrelated namespace")
	}
}
