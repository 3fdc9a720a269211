package fingerprint

import (
	"testing"
)

func fp(id int, lines ...string) *Fingerprint {
	return &Fingerprint{Failure: id, Logname: "stdio", Lines: lines}
}

func TestScoreIdentical(t *testing.T) {
	engine := NewEngine()

	a := fp(1, "ERROR: do_compile failed", "make[1]: *** Error 1")
	b := fp(2, "ERROR: do_compile failed", "make[1]: *** Error 1")

	if score := engine.Score(a, b); score != 1.0 {
		t.Errorf("identical fingerprints score %v, want 1.0", score)
	}
}

func TestScoreEmpty(t *testing.T) {
	engine := NewEngine()

	if score := engine.Score(fp(1), fp(2)); score != 1.0 {
		t.Errorf("two empty fingerprints score %v, want 1.0", score)
	}
	if score := engine.Score(fp(1), fp(2, "ERROR: x")); score != 0.0 {
		t.Errorf("one empty fingerprint scores %v, want 0.0", score)
	}
	if score := engine.Score(fp(1, "ERROR: x"), fp(2)); score != 0.0 {
		t.Errorf("one empty fingerprint scores %v, want 0.0", score)
	}
}

func TestScoreSymmetric(t *testing.T) {
	engine := NewEngine()

	a := fp(1, "ERROR: do_fetch failed", "WARNING: retrying", "ERROR: giving up")
	b := fp(2, "ERROR: do_fetch failed", "ERROR: giving up")

	if sab, sba := engine.Score(a, b), engine.Score(b, a); sab != sba {
		t.Errorf("score not symmetric: %v vs %v", sab, sba)
	}
}

func TestScoreRange(t *testing.T) {
	engine := NewEngine()

	pairs := [][2]*Fingerprint{
		{fp(1, "ERROR: a"), fp(2, "completely unrelated text")},
		{fp(3, "ERROR: do_compile failed"), fp(4, "ERROR: do_compile failure")},
		{fp(5, "x", "y", "z"), fp(6, "z", "y", "x")},
	}
	for _, pair := range pairs {
		score := engine.Score(pair[0], pair[1])
		if score < 0 || score > 1 {
			t.Errorf("score %v out of [0,1]", score)
		}
	}
}

func TestScoreAlignmentWindow(t *testing.T) {
	engine := NewEngine()

	// The matching line sits at offset 1 in one fingerprint and 0 in the
	// other, well within the window.
	a := fp(1, "x", "ERROR: foo")
	b := fp(2, "ERROR: foo", "x")
	if score := engine.Score(a, b); score <= 0 {
		t.Errorf("swapped-order fingerprints score %v, want > 0", score)
	}

	// The identical line is pushed outside the window from both alignment
	// directions; nothing aligns and the floor zeroes the rest.
	far := fp(3, "ERROR: foo", "a", "b", "c", "d", "e", "f")
	shifted := fp(4, "q", "r", "s", "t", "u", "v", "ERROR: foo")
	if score := engine.Score(far, shifted); score != 0 {
		t.Errorf("out-of-window match scores %v, want 0", score)
	}
}

func TestScoreContributionFloor(t *testing.T) {
	engine := NewEngine()

	// One perfect match, one dissimilar pair. The dissimilar line's best is
	// below the floor: it contributes nothing but stays in the denominator.
	a := fp(1, "ERROR: identical line", "zzzzzz")
	b := fp(2, "ERROR: identical line", "different entirely")

	score := engine.Score(a, b)
	if score >= 1.0 {
		t.Errorf("floored line should drag the score below 1.0, got %v", score)
	}
	if score <= 0 {
		t.Errorf("perfect match should keep the score above 0, got %v", score)
	}
}

func TestScoreSpecificErrorWeight(t *testing.T) {
	engine := NewEngine()

	// Same structure twice: one generic filler line disagrees. When the
	// agreeing line is a specific error its weight dominates, so the pair
	// with the specific-error match scores higher.
	genericMatch := engine.Score(
		fp(1, "some plain matching line", "filler aaaa"),
		fp(2, "some plain matching line", "filler bbbb zzzz qqqq"),
	)
	specificMatch := engine.Score(
		fp(3, "CompileError: something broke badly", "filler aaaa"),
		fp(4, "CompileError: something broke badly", "filler bbbb zzzz qqqq"),
	)

	if specificMatch <= genericMatch {
		t.Errorf("specific-error match %v should outscore generic match %v",
			specificMatch, genericMatch)
	}
}

func TestScoreMemoized(t *testing.T) {
	engine := NewEngine()

	a := fp(1, "ERROR: foo")
	b := fp(2, "ERROR: foo")
	first := engine.Score(a, b)

	if len(engine.memo) != 1 {
		t.Fatalf("memo holds %d entries, want 1", len(engine.memo))
	}
	if second := engine.Score(b, a); second != first {
		t.Errorf("memoized score %v differs from first %v", second, first)
	}
	if len(engine.memo) != 1 {
		t.Errorf("swapped arguments should hit the same memo entry")
	}
}

func TestIsSimilar(t *testing.T) {
	engine := NewEngine()

	same := fp(1, "ERROR: do_compile failed", "make: *** Error 1")
	dup := fp(2, "ERROR: do_compile failed", "make: *** Error 1")
	other := fp(3, "timeout waiting for qemu to boot")

	if !engine.IsSimilar(same, dup) {
		t.Error("identical fingerprints should be similar")
	}
	if engine.IsSimilar(same, other) {
		t.Error("unrelated fingerprints should not be similar")
	}
}
