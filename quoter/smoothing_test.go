package quoter

import "testing"

func TestSmoothingPassThroughUntilFilled(t *testing.T) {
	w := newSmoothingWindow(3)
	inputs := []float64{100, 101, 102}
	for _, in := range inputs {
		if got := w.Push(in); got != in {
			t.Fatalf("Push(%v) = %v, want pass-through until filled", in, got)
		}
	}
	if !w.Filled() {
		t.Fatal("window must be filled after size pushes")
	}
}

func TestSmoothingMeanAfterFilled(t *testing.T) {
	w := newSmoothingWindow(3)
	w.Push(100)
	w.Push(101)
	w.Push(102)

	// 窗口已满：逐出最旧的 100，均值为 (101+102+103)/3
	if got, want := w.Push(103), (101.0+102.0+103.0)/3; got != want {
		t.Fatalf("Push = %v, want %v", got, want)
	}
	if got, want := w.Push(103), (102.0+103.0+103.0)/3; got != want {
		t.Fatalf("Push = %v, want %v", got, want)
	}
}

func TestSmoothingSizeOneIsIdentity(t *testing.T) {
	w := newSmoothingWindow(1)
	for _, in := range []float64{100, 250.5, 1} {
		if got := w.Push(in); got != in {
			t.Fatalf("Push(%v) = %v, want identity", in, got)
		}
	}
}
