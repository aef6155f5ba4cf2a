package types

import "testing"

func TestStageTransitions(t *testing.T) {
	cases := []struct {
		from, to Stage
		ok       bool
	}{
		{StageGreeting, StageCategorizing, true},
		{StageGreeting, StageCollecting, false},
		{StageCategorizing, StageCollecting, true},
		{StageCollecting, StageResolved, true},
		{StageResolved, StageReopened, true},
		{StageReopened, StageCollecting, true},
		{StageResolved, StageGreeting, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestStagePathAdvance(t *testing.T) {
	path := StagePath{StageGreeting}
	path.Advance(StageCategorizing)
	path.Advance(StageCategorizing)
	path.Advance(StageCollecting)

	if path.String() != "GREETING→CATEGORIZING→COLLECTING" {
		t.Errorf("unexpected path %s", path)
	}
	if path.Current() != StageCollecting {
		t.Errorf("expected current COLLECTING, got %s", path.Current())
	}
}

func TestStagePathIllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on GREETING -> RESOLVED")
		}
	}()
	path := StagePath{StageGreeting}
	path.Advance(StageResolved)
}
