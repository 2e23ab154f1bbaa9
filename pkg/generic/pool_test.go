package generic

import (
	"bytes"
	"testing"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := NewHotPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset, 2)

	buf := p.Get()
	buf.WriteString("frame")
	p.Put(buf)

	for i := 0; i < 4; i++ {
		if got := p.Get(); got.Len() != 0 {
			t.Fatalf("expected empty buffer from pool, got %q", got.String())
		}
	}
}

func TestPoolWithoutReset(t *testing.T) {
	calls := 0
	p := NewPool(func() int { calls++; return 7 }, nil)
	if v := p.Get(); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if calls == 0 {
		t.Fatalf("expected generate to be called")
	}
	p.Put(3)
}

func TestBoundedPoolDropsRejected(t *testing.T) {
	resets := 0
	p := NewBoundedPool(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { resets++; b.Reset() },
		func(b *bytes.Buffer) bool { return b.Cap() <= 1024 },
	)

	big := p.Get()
	big.Grow(1 << 20)
	p.Put(big)
	if resets != 0 {
		t.Fatalf("rejected buffer must not be reset or pooled")
	}

	for i := 0; i < 4; i++ {
		if got := p.Get(); got.Cap() > 1024 {
			t.Fatalf("oversized buffer came back from the pool: cap %d", got.Cap())
		}
	}

	small := p.Get()
	small.WriteString("frame")
	p.Put(small)
	if resets != 1 {
		t.Fatalf("expected accepted buffer to be reset, got %d resets", resets)
	}
}
