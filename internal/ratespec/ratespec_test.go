package ratespec

import "testing"

func TestAddSubtractRoundTrip(t *testing.T) {
	a := New(10, 20, 30, 40)
	b := New(1, 2, 3, 4)
	sum := a.Add(b)
	if sum != New(11, 22, 33, 44) {
		t.Fatalf("Add: got %v", sum)
	}
	if sum.Subtract(b) != a {
		t.Fatalf("Subtract did not invert Add: got %v", sum.Subtract(b))
	}
}

func TestSubtractSaturates(t *testing.T) {
	a := New(1, 1, 1, 1)
	b := New(5, 5, 5, 5)
	if got := a.Subtract(b); got != Zero {
		t.Fatalf("expected saturation at zero, got %v", got)
	}
}

func TestFlipSwapsUpDown(t *testing.T) {
	r := New(10, 20, 30, 40)
	f := r.Flip()
	want := New(20, 10, 40, 30)
	if f != want {
		t.Fatalf("Flip: got %v want %v", f, want)
	}
	if f.Flip() != r {
		t.Fatalf("Flip should be its own inverse")
	}
}

func TestLeq(t *testing.T) {
	small := New(1, 1, 1, 1)
	big := New(2, 2, 2, 2)
	if !small.Leq(big) {
		t.Fatalf("expected small <= big")
	}
	if big.Leq(small) {
		t.Fatalf("expected big > small")
	}
	if !small.Leq(small) {
		t.Fatalf("Leq must be reflexive")
	}
}

func TestScale(t *testing.T) {
	r := New(100, 100, 100, 100)
	if got := r.Scale(0.5); got != New(50, 50, 50, 50) {
		t.Fatalf("Scale: got %v", got)
	}
}

func TestMin(t *testing.T) {
	a := New(1, 9, 3, 9)
	b := New(9, 2, 9, 4)
	want := New(1, 2, 3, 4)
	if got := Min(a, b); got != want {
		t.Fatalf("Min: got %v want %v", got, want)
	}
}

func TestNewClampsNegative(t *testing.T) {
	r := New(-5, 10, -1, 0)
	if r.BitRateUp != 0 || r.PktRateUp != 0 {
		t.Fatalf("New should clamp negatives to zero, got %v", r)
	}
}
