package embedding

import (
	"context"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for i, x := range v {
		if x != 0 {
			t.Errorf("v[%d] = %v, want 0", i, x)
		}
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.14159, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeVectorRejectsBadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte blob")
	}
}

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "retrieval augmented generation")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.Embed(ctx, "retrieval augmented generation")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text produced different vectors")
		}
	}
	if len(a) != 64 {
		t.Errorf("dimension = %d, want 64", len(a))
	}
}

func TestLocalProviderSimilarity(t *testing.T) {
	p := NewLocalProvider(256)
	ctx := context.Background()

	base, _ := p.Embed(ctx, "postgres connection pooling guide")
	near, _ := p.Embed(ctx, "postgres connection tuning guide")
	far, _ := p.Embed(ctx, "weekend lasagna recipe ideas")

	if cos(base, near) <= cos(base, far) {
		t.Errorf("overlapping text should score higher: near=%v far=%v",
			cos(base, near), cos(base, far))
	}
}

func TestLocalProviderEmptyInput(t *testing.T) {
	p := NewLocalProvider(0)
	if _, err := p.Embed(context.Background(), "   "); err == nil {
		t.Error("expected error for blank text")
	}
	if _, err := p.EmbedBatch(context.Background(), nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestLocalProviderBatchAlignment(t *testing.T) {
	p := NewLocalProvider(32)
	texts := []string{"alpha", "beta", "gamma"}

	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	single, _ := p.Embed(context.Background(), "beta")
	for i := range single {
		if vecs[1][i] != single[i] {
			t.Fatal("batch result not aligned with input order")
		}
	}
}

func cos(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
