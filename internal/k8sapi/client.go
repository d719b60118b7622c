// Package k8sapi is the Kubernetes Adapter: typed CRUD over namespaces,
// pods, jobs and cronjobs, with label/annotation filtering and a DTO
// boundary so the rest of the core never touches client-go types directly.
//
// Every operation logs its failures. Reads and lists return nil or empty on
// error; writes (patch, create, delete) also return the error. "Not found"
// is a normal outcome: reads return nil and deletes succeed.
package k8sapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const requestTimeout = 10 * time.Second

// Adapter wraps a typed Kubernetes client-go clientset. It holds the
// kubernetes.Interface rather than the concrete *kubernetes.Clientset so
// tests can substitute client-go's fake clientset.
type Adapter struct {
	clientset kubernetes.Interface
}

// NewFromClientset builds an Adapter around an existing clientset (e.g.
// k8s.io/client-go/kubernetes/fake for tests).
func NewFromClientset(clientset kubernetes.Interface) *Adapter {
	return &Adapter{clientset: clientset}
}

// New builds an Adapter, preferring in-cluster config and falling back to
// kubeconfigPath when non-empty. A failure to construct a client is fatal
// to the caller, the one place this package allows an error to propagate.
func New(kubeconfigPath string) (*Adapter, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			kubeconfigPath = os.Getenv("KUBECONFIG")
		}
		if kubeconfigPath == "" {
			return nil, fmt.Errorf("k8sapi: not running in-cluster and no kubeconfig provided: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("k8sapi: loading kubeconfig %q: %w", kubeconfigPath, err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sapi: building clientset: %w", err)
	}

	return &Adapter{clientset: clientset}, nil
}

// Filter selects namespaces (or workloads) by required/excluded labels and
// annotations. Labels are matched server-side and exactly; annotations are
// matched client-side as anchored regexes. Excludes take precedence.
type Filter struct {
	Labels             map[string]string
	Annotations        map[string]string
	ExcludeLabels      map[string]string
	ExcludeAnnotations map[string]string
}

func matchAnnotations(actual, want map[string]string) bool {
	for k, pattern := range want {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return false
		}
		if !re.MatchString(actual[k]) {
			return false
		}
	}
	return true
}

func excludedByAnnotations(actual, exclude map[string]string) bool {
	for k, pattern := range exclude {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			continue
		}
		if re.MatchString(actual[k]) {
			return true
		}
	}
	return false
}

func excludedByLabels(actual, exclude map[string]string) bool {
	for k, v := range exclude {
		if actual[k] == v {
			return true
		}
	}
	return false
}

// ToDTO converts a corev1.Namespace into the minimal record the matcher and
// state machine operate on.
func ToDTO(ns *corev1.Namespace) Namespace {
	return Namespace{
		Name:              ns.Name,
		Labels:            ns.Labels,
		Annotations:       ns.Annotations,
		CreationTimestamp: ns.CreationTimestamp.Time,
		Terminating:       ns.Status.Phase == corev1.NamespaceTerminating,
	}
}

// GetNamespace returns a single namespace, or nil if it doesn't exist or the
// call failed.
func (a *Adapter) GetNamespace(name string) *Namespace {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ns, err := a.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			log.Error().Err(err).Str("namespace", name).Msg("failed to get namespace")
		}
		return nil
	}

	dto := ToDTO(ns)
	return &dto
}

// ListNamespaces lists every namespace matching filter.
func (a *Adapter) ListNamespaces(filter Filter) []Namespace {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	opts := metav1.ListOptions{}
	if len(filter.Labels) > 0 {
		opts.LabelSelector = labels.SelectorFromSet(filter.Labels).String()
	}

	list, err := a.clientset.CoreV1().Namespaces().List(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to list namespaces")
		return nil
	}

	var result []Namespace
	for i := range list.Items {
		ns := &list.Items[i]
		if excludedByLabels(ns.Labels, filter.ExcludeLabels) {
			continue
		}
		if !matchAnnotations(ns.Annotations, filter.Annotations) {
			continue
		}
		if excludedByAnnotations(ns.Annotations, filter.ExcludeAnnotations) {
			continue
		}
		result = append(result, ToDTO(ns))
	}

	return result
}

// PatchNamespace strategic-merge-patches labels and/or annotations onto a
// namespace.
func (a *Adapter) PatchNamespace(name string, labels, annotations map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	metadata := map[string]interface{}{}
	if labels != nil {
		metadata["labels"] = labels
	}
	if annotations != nil {
		metadata["annotations"] = annotations
	}
	patch := map[string]interface{}{"metadata": metadata}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("k8sapi: marshalling patch: %w", err)
	}

	_, err = a.clientset.CoreV1().Namespaces().Patch(ctx, name, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", name).Msg("failed to patch namespace")
		return err
	}

	return nil
}

// DeleteNamespace deletes a namespace with the given grace period.
func (a *Adapter) DeleteNamespace(name string, gracePeriodSeconds int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := a.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &gracePeriodSeconds,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		log.Error().Err(err).Str("namespace", name).Msg("failed to delete namespace")
		return err
	}

	return nil
}

// ListPods lists pods in namespace matching labelSelector (an already
// rendered selector string, e.g. "job-name=foo").
func (a *Adapter) ListPods(namespace, labelSelector string) []corev1.Pod {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	list, err := a.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("failed to list pods")
		return nil
	}
	return list.Items
}

// DeletePod deletes a single pod.
func (a *Adapter) DeletePod(namespace, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := a.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		log.Error().Err(err).Str("namespace", namespace).Str("pod", name).Msg("failed to delete pod")
		return err
	}
	return nil
}

// ListCronJobsBy lists manager-owned cronjobs across all namespaces matching
// filter (applied to the cronjob's own labels/annotations).
func (a *Adapter) ListCronJobsBy(filter Filter) []batchv1.CronJob {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	opts := metav1.ListOptions{}
	if len(filter.Labels) > 0 {
		opts.LabelSelector = labels.SelectorFromSet(filter.Labels).String()
	}

	list, err := a.clientset.BatchV1().CronJobs(metav1.NamespaceAll).List(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to list cronjobs")
		return nil
	}

	var result []batchv1.CronJob
	for _, cj := range list.Items {
		if excludedByLabels(cj.Labels, filter.ExcludeLabels) {
			continue
		}
		if !matchAnnotations(cj.Annotations, filter.Annotations) {
			continue
		}
		if excludedByAnnotations(cj.Annotations, filter.ExcludeAnnotations) {
			continue
		}
		result = append(result, cj)
	}
	return result
}

// ListJobsBy is the Job analogue of ListCronJobsBy.
func (a *Adapter) ListJobsBy(filter Filter) []batchv1.Job {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	opts := metav1.ListOptions{}
	if len(filter.Labels) > 0 {
		opts.LabelSelector = labels.SelectorFromSet(filter.Labels).String()
	}

	list, err := a.clientset.BatchV1().Jobs(metav1.NamespaceAll).List(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		return nil
	}

	var result []batchv1.Job
	for _, job := range list.Items {
		if excludedByLabels(job.Labels, filter.ExcludeLabels) {
			continue
		}
		if !matchAnnotations(job.Annotations, filter.Annotations) {
			continue
		}
		if excludedByAnnotations(job.Annotations, filter.ExcludeAnnotations) {
			continue
		}
		result = append(result, job)
	}
	return result
}

// CreateCronJob creates cj in its namespace.
func (a *Adapter) CreateCronJob(cj *batchv1.CronJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err := a.clientset.BatchV1().CronJobs(cj.Namespace).Create(ctx, cj, metav1.CreateOptions{})
	if err != nil {
		log.Error().Err(err).Str("cronjob", cj.Name).Msg("failed to create cronjob")
		return err
	}
	return nil
}

// PatchCronJob replaces cj's spec and annotations via update.
func (a *Adapter) PatchCronJob(cj *batchv1.CronJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err := a.clientset.BatchV1().CronJobs(cj.Namespace).Update(ctx, cj, metav1.UpdateOptions{})
	if err != nil {
		log.Error().Err(err).Str("cronjob", cj.Name).Msg("failed to patch cronjob")
		return err
	}
	return nil
}

// DeleteCronJob deletes a cronjob by name.
func (a *Adapter) DeleteCronJob(namespace, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := a.clientset.BatchV1().CronJobs(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		log.Error().Err(err).Str("cronjob", name).Msg("failed to delete cronjob")
		return err
	}
	return nil
}

// CreateJob creates job in its namespace.
func (a *Adapter) CreateJob(job *batchv1.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err := a.clientset.BatchV1().Jobs(job.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("failed to create job")
		return err
	}
	return nil
}

// DeleteJob deletes a job by name, and waits up to 10s for it to disappear
// when wait is true (used before recreating an immutable Job).
func (a *Adapter) DeleteJob(namespace, name string, wait bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	propagation := metav1.DeletePropagationBackground
	err := a.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		log.Error().Err(err).Str("job", name).Msg("failed to delete job")
		return err
	}

	if !wait {
		return nil
	}

	deadline := time.Now().Add(requestTimeout)
	for time.Now().Before(deadline) {
		_, err := a.clientset.BatchV1().Jobs(namespace).Get(context.Background(), name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("k8sapi: timed out waiting for job %s/%s to disappear", namespace, name)
}

// FailingWorkloads scans a namespace's Deployments, StatefulSets and
// ReplicaSets and returns those with available_replicas < desired_replicas,
// the probe's k8s-API fallback evidence source. DaemonSets are included only when includeDaemonSets is
// true (number_ready < desired_number_scheduled).
func (a *Adapter) FailingWorkloads(namespace string, includeDaemonSets bool) []WorkloadRef {
	var failing []WorkloadRef

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	deployments, err := a.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("failed to list deployments")
	} else {
		for _, d := range deployments.Items {
			if d.Status.AvailableReplicas < d.Status.Replicas {
				failing = append(failing, WorkloadRef{Kind: "Deployment", Name: d.Name})
			}
		}
	}

	statefulSets, err := a.clientset.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("failed to list statefulsets")
	} else {
		for _, s := range statefulSets.Items {
			if s.Status.AvailableReplicas < s.Status.Replicas {
				failing = append(failing, WorkloadRef{Kind: "StatefulSet", Name: s.Name})
			}
		}
	}

	replicaSets, err := a.clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("failed to list replicasets")
	} else {
		for _, r := range replicaSets.Items {
			if r.Status.AvailableReplicas < r.Status.Replicas {
				failing = append(failing, WorkloadRef{Kind: "ReplicaSet", Name: r.Name})
			}
		}
	}

	if includeDaemonSets {
		daemonSets, err := a.clientset.AppsV1().DaemonSets(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			log.Error().Err(err).Str("namespace", namespace).Msg("failed to list daemonsets")
		} else {
			for _, ds := range daemonSets.Items {
				if ds.Status.NumberReady < ds.Status.DesiredNumberScheduled {
					failing = append(failing, WorkloadRef{Kind: "DaemonSet", Name: ds.Name})
				}
			}
		}
	}

	return failing
}
