package kernels

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randSlice(rng *rand.Rand, n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (rng.Float32()*2 - 1) * scale
	}
	return out
}

func assertAllClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol*math.Max(1, math.Abs(float64(want[i]))) {
			t.Fatalf("index %d: want %v, got %v (tol %v)", i, want[i], got[i], tol)
		}
	}
}

// naiveGemm computes C += A·B in float64 for a row-major k×n B.
func naiveGemm(m, n, k int, a, b, c []float32) []float32 {
	out := make([]float32, len(c))
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := float64(c[i*n+j])
			for kk := 0; kk < k; kk++ {
				sum += float64(a[i*k+kk]) * float64(b[kk*n+j])
			}
			out[i*n+j] = float32(sum)
		}
	}
	return out
}

func TestPackB(t *testing.T) {
	// 2×5 matrix packs into two panels, the second padded with zeros.
	b := []float32{
		1, 2, 3, 4, 5,
		6, 7, 8, 9, 10,
	}
	dst := make([]float32, PackedBSize(5, 2))
	PackB(5, 2, b, 5, dst)

	assert.Equal(t, []float32{
		1, 2, 3, 4, 6, 7, 8, 9,
		5, 0, 0, 0, 10, 0, 0, 0,
	}, dst)
}

func TestGemmPack4F32MatchesTripleLoop(t *testing.T) {
	sizes := []int{1, 2, 3, 4, 9, 11, 12, 13, 21, 97}
	rng := rand.New(rand.NewPCG(1, 2))

	for _, m := range sizes {
		for _, n := range sizes {
			for _, k := range sizes {
				a := randSlice(rng, m*k, 1)
				b := randSlice(rng, k*n, 1)
				c := randSlice(rng, m*n, 1)
				want := naiveGemm(m, n, k, a, b, c)

				packed := make([]float32, PackedBSize(n, k))
				PackB(n, k, b, n, packed)
				got := append([]float32(nil), c...)
				GemmPack4F32(m, n, k, a, k, packed, got, n)

				ref := append([]float32(nil), c...)
				GemmPack4F32Ref(m, n, k, a, k, packed, ref, n)

				name := fmt.Sprintf("%dx%dx%d", m, n, k)
				t.Run(name, func(t *testing.T) {
					assertAllClose(t, want, got, 1e-4)
					assertAllClose(t, want, ref, 1e-4)
				})
			}
		}
	}
}

func TestGemmRectangular(t *testing.T) {
	shapes := [][3]int{{1024, 128, 256}, {5, 1000, 64}, {300, 7, 513}}
	rng := rand.New(rand.NewPCG(3, 4))

	for _, s := range shapes {
		m, n, k := s[0], s[1], s[2]
		t.Run(fmt.Sprintf("%dx%dx%d", m, n, k), func(t *testing.T) {
			a := randSlice(rng, m*k, 1)
			b := randSlice(rng, k*n, 1)
			c := make([]float32, m*n)
			want := naiveGemm(m, n, k, a, b, c)

			Gemm(m, n, k, a, k, b, n, c, n)
			assertAllClose(t, want, c, 1e-4)
		})
	}
}

func TestGemmLeadingDimensions(t *testing.T) {
	// A and C are views into wider matrices; columns outside must stay put.
	m, n, k := 5, 6, 3
	lda, ldc := 8, 10
	rng := rand.New(rand.NewPCG(5, 6))

	a := randSlice(rng, m*lda, 1)
	b := randSlice(rng, k*n, 1)
	c := make([]float32, m*ldc)
	for i := range c {
		c[i] = 100
	}

	Gemm(m, n, k, a, lda, b, n, c, ldc)

	for i := 0; i < m; i++ {
		for j := 0; j < ldc; j++ {
			want := float64(100)
			if j < n {
				for kk := 0; kk < k; kk++ {
					want += float64(a[i*lda+kk]) * float64(b[kk*n+j])
				}
			}
			assert.InDelta(t, want, c[i*ldc+j], 1e-3, "c[%d][%d]", i, j)
		}
	}
}

func TestAddBiasNHWC(t *testing.T) {
	dst := []float32{0, 0, 0, 1, 1, 1}
	AddBiasNHWC([]float32{1, 2, 3}, 2, 3, dst)
	assert.Equal(t, []float32{1, 2, 3, 2, 3, 4}, dst)
}

// directConv is a float64 channel-last convolution with HWIO weights.
func directConv(g ConvGeometry, src []float32, ic int, weight []float32, oc int) []float32 {
	oh, ow := g.OutH(), g.OutW()
	out := make([]float32, oh*ow*oc)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			for o := 0; o < oc; o++ {
				var sum float64
				for ky := 0; ky < g.KernelH; ky++ {
					iy := oy*g.StrideH - g.PadTop + ky*g.DilationH
					if iy < 0 || iy >= g.InH {
						continue
					}
					for kx := 0; kx < g.KernelW; kx++ {
						ix := ox*g.StrideW - g.PadLeft + kx*g.DilationW
						if ix < 0 || ix >= g.InW {
							continue
						}
						for i := 0; i < ic; i++ {
							w := weight[((ky*g.KernelW+kx)*ic+i)*oc+o]
							sum += float64(src[(iy*g.InW+ix)*ic+i]) * float64(w)
						}
					}
				}
				out[(oy*ow+ox)*oc+o] = float32(sum)
			}
		}
	}
	return out
}

func geometry3x3(h, w, pad int) ConvGeometry {
	return ConvGeometry{
		InH: h, InW: w,
		KernelH: 3, KernelW: 3,
		StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1,
		PadTop: pad, PadLeft: pad, PadBottom: pad, PadRight: pad,
	}
}

func im2colConv(g ConvGeometry, src []float32, ic int, weight []float32, oc int) []float32 {
	rows := g.OutH() * g.OutW()
	k := g.KernelH * g.KernelW * ic
	cols := make([]float32, rows*k)
	Im2Col(g, src, ic, 0, ic, 0, rows, cols)
	out := make([]float32, rows*oc)
	Gemm(rows, oc, k, cols, k, weight, oc, out, oc)
	return out
}

func winogradConv(h, w, pad int, src []float32, ic int, weight []float32, oc int) []float32 {
	wg := NewWinograd(h, w, ic, pad)
	kernel := make([]float32, WinogradKernelSize(ic, oc))
	TransformKernelPack4(weight, ic, oc, kernel)

	input := make([]float32, wg.InputSize())
	wg.TransformInput(src, 0, wg.Tiles(), input)

	product := make([]float32, wg.ProductSize(oc))
	for t := 0; t < WinogradTileCount; t++ {
		wg.Multiply(t, oc, input, kernel, product, 0, wg.Tiles())
	}

	out := make([]float32, wg.OutH*wg.OutW*oc)
	wg.TransformOutput(product, oc, 0, wg.Tiles(), out)
	return out
}

func TestConvPathsMatchDirect(t *testing.T) {
	channels := []int{1, 2, 3, 4, 7, 8, 32, 128, 256}
	rng := rand.New(rand.NewPCG(7, 8))

	for _, c := range channels {
		for _, pad := range []int{0, 1} {
			// Odd sizes exercise partial tiles on both edges.
			h, w := 7, 9
			ic, oc := c, c
			t.Run(fmt.Sprintf("c%d_pad%d", c, pad), func(t *testing.T) {
				src := randSlice(rng, h*w*ic, 1)
				weight := randSlice(rng, 9*ic*oc, 1/float32(math.Sqrt(float64(9*ic))))
				g := geometry3x3(h, w, pad)
				want := directConv(g, src, ic, weight, oc)

				assertAllClose(t, want, im2colConv(g, src, ic, weight, oc), 2e-3)
				assertAllClose(t, want, winogradConv(h, w, pad, src, ic, weight, oc), 2e-3)
			})
		}
	}
}

func TestWinogradAsymmetricChannels(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	for _, ch := range [][2]int{{3, 16}, {16, 3}, {5, 13}} {
		ic, oc := ch[0], ch[1]
		t.Run(fmt.Sprintf("%dto%d", ic, oc), func(t *testing.T) {
			h, w := 6, 5
			src := randSlice(rng, h*w*ic, 1)
			weight := randSlice(rng, 9*ic*oc, 0.3)
			want := directConv(geometry3x3(h, w, 1), src, ic, weight, oc)
			assertAllClose(t, want, winogradConv(h, w, 1, src, ic, weight, oc), 2e-3)
		})
	}
}

func TestIm2ColStridedDilated(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	g := ConvGeometry{
		InH: 11, InW: 10,
		KernelH: 3, KernelW: 2,
		StrideH: 2, StrideW: 3,
		DilationH: 2, DilationW: 1,
		PadTop: 1, PadLeft: 2, PadBottom: 0, PadRight: 1,
	}
	ic, oc := 5, 6
	src := randSlice(rng, g.InH*g.InW*ic, 1)
	weight := randSlice(rng, g.KernelH*g.KernelW*ic*oc, 0.5)

	want := directConv(g, src, ic, weight, oc)
	assertAllClose(t, want, im2colConv(g, src, ic, weight, oc), 1e-4)
}

func TestIm2ColChannelSlice(t *testing.T) {
	// 1×1 kernel over a 2×1 image with 4 channels, lowering channels [1, 3).
	g := ConvGeometry{
		InH: 2, InW: 1,
		KernelH: 1, KernelW: 1,
		StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1,
	}
	src := []float32{0, 1, 2, 3, 10, 11, 12, 13}
	dst := make([]float32, 4)
	Im2Col(g, src, 4, 1, 2, 0, 2, dst)
	assert.Equal(t, []float32{1, 2, 11, 12}, dst)
}

func TestTransformKernelIdentity(t *testing.T) {
	// A kernel with only the center tap set is an identity conv with pad 1.
	ic, oc := 1, 1
	weight := make([]float32, 9)
	weight[4] = 1
	src := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := winogradConv(3, 3, 1, src, ic, weight, oc)
	assertAllClose(t, src, got, 1e-6)
}
