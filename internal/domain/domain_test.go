package domain_test

import (
	"testing"

	"habitline/internal/domain"
)

func TestInstanceStatusTransitions(t *testing.T) {
	all := []domain.InstanceStatus{
		domain.StatusPlanned, domain.StatusDone, domain.StatusCanceled, domain.StatusFailed,
	}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := from == to || to != domain.StatusPlanned
			if got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	if domain.StatusPlanned.Terminal() {
		t.Error("planned must not be terminal")
	}
	for _, s := range []domain.InstanceStatus{domain.StatusDone, domain.StatusCanceled, domain.StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestTaskKindForScope(t *testing.T) {
	if domain.TaskKindForScope(domain.ScopeDay) != domain.TaskKindDaily {
		t.Error("day scope must instantiate daily tasks")
	}
	if domain.TaskKindForScope(domain.ScopeWeek) != domain.TaskKindWeekly {
		t.Error("week scope must instantiate weekly tasks")
	}
}

func TestValid(t *testing.T) {
	if domain.TaskKind("monthly").Valid() {
		t.Error("monthly is not a task kind")
	}
	if domain.SessionScope("year").Valid() {
		t.Error("year is not a session scope")
	}
	if domain.InstanceStatus("skipped").Valid() {
		t.Error("skipped is not an instance status")
	}
	if domain.StatsPeriod("years").Valid() {
		t.Error("years is not a stats period")
	}
}
