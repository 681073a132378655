package ring

import "testing"

func TestBuffer_PushUnderCapacity(t *testing.T) {
	b := New[int](5)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	got := b.Slice()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Slice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBuffer_PushOverCapacityKeepsMinNCap(t *testing.T) {
	tests := []struct {
		name   string
		cap    int
		pushes int
		want   []int
	}{
		{"fewer than capacity", 5, 3, []int{0, 1, 2}},
		{"exactly at capacity", 5, 5, []int{0, 1, 2, 3, 4}},
		{"over capacity evicts oldest", 5, 8, []int{3, 4, 5, 6, 7}},
		{"far over capacity", 3, 10, []int{7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New[int](tt.cap)
			for i := 0; i < tt.pushes; i++ {
				b.Push(i)
			}

			wantLen := tt.pushes
			if wantLen > tt.cap {
				wantLen = tt.cap
			}
			if b.Len() != wantLen {
				t.Fatalf("Len() = %d, want min(N,cap) = %d", b.Len(), wantLen)
			}

			got := b.Slice()
			if len(got) != len(tt.want) {
				t.Fatalf("Slice() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Slice()[%d] = %d, want %d (receive order)", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuffer_CapReportsFixedCapacity(t *testing.T) {
	b := New[string](4)
	if b.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", b.Cap())
	}
	b.Push("a")
	b.Push("b")
	if b.Cap() != 4 {
		t.Errorf("Cap() after pushes = %d, want 4", b.Cap())
	}
}

func TestBuffer_NewWithNonPositiveCapClampsToOne(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", b.Cap())
	}
	b.Push(1)
	b.Push(2)
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	last, ok := b.Last()
	if !ok || last != 2 {
		t.Errorf("Last() = (%d, %v), want (2, true)", last, ok)
	}
}

func TestBuffer_LastEmpty(t *testing.T) {
	b := New[int](3)
	if _, ok := b.Last(); ok {
		t.Error("Last() on empty buffer should report false")
	}
}

func TestBuffer_LastReturnsMostRecent(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Push(4) // evicts 1

	last, ok := b.Last()
	if !ok || last != 4 {
		t.Errorf("Last() = (%d, %v), want (4, true)", last, ok)
	}
}

func TestBuffer_LastN(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	got := b.LastN(3)
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("LastN(3) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LastN(3)[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBuffer_LastNMoreThanAvailable(t *testing.T) {
	b := New[int](5)
	b.Push(1)
	b.Push(2)

	got := b.LastN(10)
	want := []int{1, 2}
	if len(got) != len(want) {
		t.Fatalf("LastN(10) = %v, want %v (clamped to Len())", got, want)
	}
}
