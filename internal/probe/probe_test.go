package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/peopleapi"
)

func TestRunDispatchesUnknownAction(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := k8sapi.NewFromClientset(clientset)
	r := New(adapter, nil, nil, config.Config{})

	if err := r.Run(context.Background(), "does-not-exist", "dev-alice"); err == nil {
		t.Fatal("Run() with unknown action: want error, got nil")
	}
}

func TestCheckNamespaceNamespaceNotFound(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := k8sapi.NewFromClientset(clientset)
	cfg := config.Config{Namespaces: []config.NamespacePolicy{{Names: []string{"^dev-.*$"}}}}
	r := New(adapter, nil, nil, cfg)

	if err := r.Run(context.Background(), CheckNamespace, "dev-gone"); err == nil {
		t.Fatal("checkNamespace() on a missing namespace: want error, got nil")
	}
}

func TestCheckNamespaceNoMatchingPolicy(t *testing.T) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "prod-critical", CreationTimestamp: metav1.NewTime(time.Now())}}
	clientset := fake.NewSimpleClientset(ns)
	adapter := k8sapi.NewFromClientset(clientset)
	cfg := config.Config{Namespaces: []config.NamespacePolicy{{Names: []string{"^dev-.*$"}}}}
	r := New(adapter, nil, nil, cfg)

	if err := r.Run(context.Background(), CheckNamespace, "prod-critical"); err == nil {
		t.Fatal("checkNamespace() with no matching policy: want error, got nil")
	}
}

func TestCheckNamespaceHealthySetsOKStatus(t *testing.T) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:              "dev-alice",
		CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Minute)),
	}}
	clientset := fake.NewSimpleClientset(ns)
	adapter := k8sapi.NewFromClientset(clientset)
	cfg := config.Config{Namespaces: []config.NamespacePolicy{{
		Names: []string{"^dev-.*$"},
		TTL:   2 * time.Hour,
	}}}
	r := New(adapter, nil, nil, cfg)

	if err := r.Run(context.Background(), CheckNamespace, "dev-alice"); err != nil {
		t.Fatalf("checkNamespace() error: %v", err)
	}

	updated, err := clientset.CoreV1().Namespaces().Get(context.Background(), "dev-alice", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting namespace: %v", err)
	}
	if updated.Annotations[k8sapi.AnnotationStatus] != string(k8sapi.StatusOK) {
		t.Errorf("status annotation = %q, want ok", updated.Annotations[k8sapi.AnnotationStatus])
	}
}

func TestGetOwnerInfoRequiresConfiguredClient(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := k8sapi.NewFromClientset(clientset)
	r := New(adapter, nil, nil, config.Config{})

	if err := r.Run(context.Background(), GetOwnerInfo, "dev-alice"); err == nil {
		t.Fatal("getOwnerInfo() without a people client: want error, got nil")
	}
}

func TestGetOwnerInfoEncodesOwnerAnnotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Jane Doe","slack_id":"U123456"}`))
	}))
	defer srv.Close()

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:        "dev-alice",
		Labels:      map[string]string{k8sapi.LabelAuthor: "janedoe"},
		Annotations: map[string]string{k8sapi.AnnotationAuthorMail: "jane@example.com"},
	}}
	clientset := fake.NewSimpleClientset(ns)
	adapter := k8sapi.NewFromClientset(clientset)

	peopleClient, err := peopleapi.New(srv.URL, "", false)
	if err != nil {
		t.Fatalf("peopleapi.New() error: %v", err)
	}

	r := New(adapter, nil, peopleClient, config.Config{})
	if err := r.Run(context.Background(), GetOwnerInfo, "dev-alice"); err != nil {
		t.Fatalf("getOwnerInfo() error: %v", err)
	}

	updated, err := clientset.CoreV1().Namespaces().Get(context.Background(), "dev-alice", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting namespace: %v", err)
	}
	if updated.Annotations[k8sapi.AnnotationOwner] == "" {
		t.Errorf("owner annotation was not set")
	}
}
