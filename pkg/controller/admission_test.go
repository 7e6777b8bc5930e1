package controller

import (
	"testing"

	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/types"
)

func TestAdmissionAllowsConcurrentNonExclusiveInSameFamily(t *testing.T) {
	tbl := newAdmissionTable()

	rel1, _, err := tbl.Admit("j1", job.Options{Family: "gaia"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rel2, _, err := tbl.Admit("j2", job.Options{Family: "gaia"}, nil)
	if err != nil {
		t.Fatalf("expected a second non-exclusive admission to succeed, got %v", err)
	}
	rel1()
	rel2()
}

func TestAdmissionRejectsExclusiveWithoutPreemptionWhenFamilyBusy(t *testing.T) {
	tbl := newAdmissionTable()

	rel, _, err := tbl.Admit("j1", job.Options{Family: "gaia"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rel()

	_, _, err = tbl.Admit("j2", job.Options{Family: "gaia", Exclusive: true}, nil)
	if types.Kind(err) != types.KindWorkerRefusal {
		t.Fatalf("expected an ErrJobConflict rejection, got %v", err)
	}
}

func TestAdmissionPreemptiveExclusiveEvictsExistingHolders(t *testing.T) {
	tbl := newAdmissionTable()

	cancelled := false
	_, _, err := tbl.Admit("j1", job.Options{Family: "gaia"}, func() { cancelled = true })
	if err != nil {
		t.Fatal(err)
	}

	relExclusive, evicted, err := tbl.Admit("j2", job.Options{Family: "gaia", Exclusive: true, Preemptive: true}, nil)
	if err != nil {
		t.Fatalf("expected preemptive exclusive admission to succeed, got %v", err)
	}
	if !cancelled {
		t.Fatal("expected the existing holder's cancel to have been invoked")
	}
	if len(evicted) != 1 || evicted[0] != "j1" {
		t.Fatalf("expected j1 reported evicted, got %v", evicted)
	}

	// The family is now held exclusively by j2: a third admission must
	// be rejected even though it is itself non-exclusive.
	_, _, err = tbl.Admit("j3", job.Options{Family: "gaia"}, nil)
	if types.Kind(err) != types.KindWorkerRefusal {
		t.Fatalf("expected family held exclusively to reject j3, got %v", err)
	}

	relExclusive()

	// Once released, the family is open again.
	rel3, _, err := tbl.Admit("j3", job.Options{Family: "gaia"}, nil)
	if err != nil {
		t.Fatalf("expected admission after release to succeed, got %v", err)
	}
	rel3()
}

func TestAdmissionIgnoresFamilyWhenUnset(t *testing.T) {
	tbl := newAdmissionTable()

	rel1, _, err := tbl.Admit("j1", job.Options{Exclusive: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rel2, _, err := tbl.Admit("j2", job.Options{Exclusive: true}, nil)
	if err != nil {
		t.Fatalf("expected jobs with no family to never conflict, got %v", err)
	}
	rel1()
	rel2()
}
