package collectcontroller

import (
	"testing"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
)

func TestBuildCronJobRejectsInvalidSchedule(t *testing.T) {
	spec := config.DefaultTaskSpec()
	spec.Schedule = "not-a-schedule"

	if _, err := buildCronJob(config.Context{Namespace: "manager"}, actionCheckNamespace, "dev-alice", spec); err == nil {
		t.Fatal("buildCronJob() with invalid schedule: want error, got nil")
	}
}

func TestBuildCronJobSetsIdentifyingAnnotations(t *testing.T) {
	cj, err := buildCronJob(config.Context{Namespace: "manager"}, actionCheckNamespace, "dev-alice", config.DefaultTaskSpec())
	if err != nil {
		t.Fatalf("buildCronJob() error: %v", err)
	}

	if cj.Namespace != "manager" {
		t.Errorf("Namespace = %q, want manager", cj.Namespace)
	}
	if cj.Annotations["manager.cicd.skao.int/action"] != actionCheckNamespace {
		t.Errorf("action annotation = %q", cj.Annotations["manager.cicd.skao.int/action"])
	}
	if cj.Annotations["manager.cicd.skao.int/namespace"] != "dev-alice" {
		t.Errorf("namespace annotation = %q", cj.Annotations["manager.cicd.skao.int/namespace"])
	}
	if cj.Annotations["manager.cicd.skao.int/spec_hash"] == "" {
		t.Errorf("spec_hash annotation is empty")
	}
}

func TestBuildJobSpecHashChangesWithBackoffLimit(t *testing.T) {
	spec1 := config.DefaultTaskSpec()
	spec2 := config.DefaultTaskSpec()
	spec2.BackoffLimit = 3

	job1 := buildJob(config.Context{Namespace: "manager"}, actionGetOwnerInfo, "dev-alice", spec1)
	job2 := buildJob(config.Context{Namespace: "manager"}, actionGetOwnerInfo, "dev-alice", spec2)

	if job1.Annotations["manager.cicd.skao.int/spec_hash"] == job2.Annotations["manager.cicd.skao.int/spec_hash"] {
		t.Errorf("spec_hash did not change despite a differing BackoffLimit")
	}
}

func TestSpecHashIsStableForIdenticalSpecs(t *testing.T) {
	job1 := buildJob(config.Context{Namespace: "manager"}, actionGetOwnerInfo, "dev-alice", config.DefaultTaskSpec())
	job2 := buildJob(config.Context{Namespace: "manager"}, actionGetOwnerInfo, "dev-alice", config.DefaultTaskSpec())

	if job1.Annotations["manager.cicd.skao.int/spec_hash"] != job2.Annotations["manager.cicd.skao.int/spec_hash"] {
		t.Errorf("spec_hash differs for identical specs")
	}
}
