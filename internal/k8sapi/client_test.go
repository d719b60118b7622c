package k8sapi

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestAdapter(objects ...interface{}) (*Adapter, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	for _, obj := range objects {
		switch o := obj.(type) {
		case *corev1.Namespace:
			_, _ = client.CoreV1().Namespaces().Create(context.Background(), o, metav1.CreateOptions{})
		}
	}
	return NewFromClientset(client), client
}

func TestListNamespacesLabelAndAnnotationFiltering(t *testing.T) {
	matching := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "dev-a",
			Labels:      map[string]string{"env": "dev"},
			Annotations: map[string]string{AnnotationOwner: "c29tZQ=="},
		},
	}
	nonMatching := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "dev-b",
			Labels: map[string]string{"env": "staging"},
		},
	}

	adapter, _ := newTestAdapter(matching, nonMatching)

	result := adapter.ListNamespaces(Filter{
		Labels:      map[string]string{"env": "dev"},
		Annotations: map[string]string{AnnotationOwner: ".+"},
	})

	if len(result) != 1 || result[0].Name != "dev-a" {
		t.Fatalf("ListNamespaces() = %+v, want only dev-a", result)
	}
}

func TestListNamespacesExcludesTakePrecedence(t *testing.T) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "kube-system-like",
			Labels:      map[string]string{"env": "dev"},
			Annotations: map[string]string{AnnotationManaged: "true"},
		},
	}
	adapter, _ := newTestAdapter(ns)

	result := adapter.ListNamespaces(Filter{
		Labels:             map[string]string{"env": "dev"},
		ExcludeAnnotations: map[string]string{AnnotationManaged: "true"},
	})

	if len(result) != 0 {
		t.Fatalf("ListNamespaces() = %+v, want empty because exclude took precedence", result)
	}
}

func TestGetNamespaceNotFound(t *testing.T) {
	adapter, _ := newTestAdapter()

	if got := adapter.GetNamespace("missing"); got != nil {
		t.Fatalf("GetNamespace() = %+v, want nil", got)
	}
}

func TestToDTOTerminating(t *testing.T) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "gone-soon",
			CreationTimestamp: metav1.NewTime(time.Now()),
		},
		Status: corev1.NamespaceStatus{Phase: corev1.NamespaceTerminating},
	}

	dto := ToDTO(ns)
	if !dto.Terminating {
		t.Errorf("ToDTO().Terminating = false, want true")
	}
}
