package collectcontroller

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/robfig/cron/v3"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const (
	actionCheckNamespace = "check-namespace"
	actionGetOwnerInfo   = "get-owner-info"
)

func probeContainer(ctx config.Context, action, targetNamespace string) corev1.Container {
	return corev1.Container{
		Name:    action,
		Image:   ctx.Image,
		Command: []string{"probe", "--action", action, "--namespace", targetNamespace},
	}
}

func manifestLabels(ctx config.Context, action, targetNamespace string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/managed-by": "ska-namespace-manager",
	}
}

func manifestAnnotations(action, targetNamespace string) map[string]string {
	return map[string]string{
		k8sapi.AnnotationManaged:   "true",
		k8sapi.AnnotationAction:    action,
		k8sapi.AnnotationNamespace: targetNamespace,
	}
}

// specFingerprint is the deterministic, pointer-free subset of a CronJob/Job
// spec that actually affects the probe it runs; hashed to detect changes
// that require a delete-and-recreate (Jobs are immutable once created).
type specFingerprint struct {
	Schedule              string
	ConcurrencyPolicy     string
	SuccessfulJobsHistory int32
	FailedJobsHistory     int32
	BackoffLimit          int32
	ActiveDeadlineSeconds int64
	ServiceAccount        string
	Image                 string
	Command               []string
}

// specHash returns an 8-hex-character digest of fp.
func specHash(fp specFingerprint) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", fp)))
	return hex.EncodeToString(sum[:])[:8]
}

// buildCronJob renders the CronJob for a recurring probe action (currently
// only check-namespace).
func buildCronJob(ctx config.Context, action, targetNamespace string, spec config.TaskSpec) (*batchv1.CronJob, error) {
	if _, err := cronParser.Parse(spec.Schedule); err != nil {
		return nil, fmt.Errorf("collectcontroller: invalid cron schedule %q for action %q: %w", spec.Schedule, action, err)
	}

	labels := manifestLabels(ctx, action, targetNamespace)
	annotations := manifestAnnotations(action, targetNamespace)

	concurrencyPolicy := batchv1.ForbidConcurrent
	switch spec.ConcurrencyPolicy {
	case "Allow":
		concurrencyPolicy = batchv1.AllowConcurrent
	case "Replace":
		concurrencyPolicy = batchv1.ReplaceConcurrent
	}

	successHistory := spec.SuccessfulJobsHistory
	failedHistory := spec.FailedJobsHistory
	backoffLimit := spec.BackoffLimit

	jobSpec := batchv1.JobSpec{
		BackoffLimit: &backoffLimit,
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{Labels: labels},
			Spec: corev1.PodSpec{
				ServiceAccountName: ctx.ServiceAccount,
				RestartPolicy:      corev1.RestartPolicyNever,
				Containers:         []corev1.Container{probeContainer(ctx, action, targetNamespace)},
			},
		},
	}
	if spec.ActiveDeadlineSeconds > 0 {
		jobSpec.ActiveDeadlineSeconds = &spec.ActiveDeadlineSeconds
	}

	cronJob := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-%s-", action, targetNamespace),
			Namespace:    ctx.Namespace,
			Labels:       labels,
			Annotations:  annotations,
		},
		Spec: batchv1.CronJobSpec{
			Schedule:                   spec.Schedule,
			ConcurrencyPolicy:          concurrencyPolicy,
			SuccessfulJobsHistoryLimit: &successHistory,
			FailedJobsHistoryLimit:     &failedHistory,
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       jobSpec,
			},
		},
	}
	cronJob.Annotations[k8sapi.AnnotationSpecHash] = specHash(specFingerprint{
		Schedule:              spec.Schedule,
		ConcurrencyPolicy:     string(concurrencyPolicy),
		SuccessfulJobsHistory: successHistory,
		FailedJobsHistory:     failedHistory,
		BackoffLimit:          backoffLimit,
		ActiveDeadlineSeconds: spec.ActiveDeadlineSeconds,
		ServiceAccount:        ctx.ServiceAccount,
		Image:                 ctx.Image,
		Command:               probeContainer(ctx, action, targetNamespace).Command,
	})

	return cronJob, nil
}

// buildJob renders the one-shot Job for a non-recurring probe action
// (currently only get-owner-info).
func buildJob(ctx config.Context, action, targetNamespace string, spec config.TaskSpec) *batchv1.Job {
	labels := manifestLabels(ctx, action, targetNamespace)
	annotations := manifestAnnotations(action, targetNamespace)
	backoffLimit := spec.BackoffLimit

	jobSpec := batchv1.JobSpec{
		BackoffLimit: &backoffLimit,
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{Labels: labels},
			Spec: corev1.PodSpec{
				ServiceAccountName: ctx.ServiceAccount,
				RestartPolicy:      corev1.RestartPolicyNever,
				Containers:         []corev1.Container{probeContainer(ctx, action, targetNamespace)},
			},
		},
	}
	if spec.ActiveDeadlineSeconds > 0 {
		jobSpec.ActiveDeadlineSeconds = &spec.ActiveDeadlineSeconds
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-%s-", action, targetNamespace),
			Namespace:    ctx.Namespace,
			Labels:       labels,
			Annotations:  annotations,
		},
		Spec: jobSpec,
	}
	job.Annotations[k8sapi.AnnotationSpecHash] = specHash(specFingerprint{
		BackoffLimit:          backoffLimit,
		ActiveDeadlineSeconds: spec.ActiveDeadlineSeconds,
		ServiceAccount:        ctx.ServiceAccount,
		Image:                 ctx.Image,
		Command:               probeContainer(ctx, action, targetNamespace).Command,
	})

	return job
}
