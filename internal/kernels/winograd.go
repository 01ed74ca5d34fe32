package kernels

// Winograd F(2x2,3x3) for stride-1, dilation-1 3×3 convolution with
// symmetric padding. Each 2×2 output tile is computed from a 4×4 input tile:
//
//	Y = Aᵀ [ (G g Gᵀ) ⊙ (Bᵀ d B) ] A
//
// The element-wise product over channels becomes 16 independent GEMMs, one
// per position of the 4×4 transformed tile.

// WinogradTileCount is the number of transformed positions per tile.
const WinogradTileCount = 16

// WinogradKernelSize returns the length of a transformed kernel for ic input
// and oc output channels.
func WinogradKernelSize(ic, oc int) int {
	return WinogradTileCount * PackedBSize(oc, ic)
}

// TransformKernelPack4 transforms HWIO 3×3 weights into 16 packed GEMM
// right-hand sides laid out [16][oc/4][ic][4]. Output channels past oc are
// zero. dst must hold WinogradKernelSize(ic, oc) values.
func TransformKernelPack4(weight []float32, ic, oc int, dst []float32) {
	clear(dst[:WinogradKernelSize(ic, oc)])
	stride := PackedBSize(oc, ic)

	var g [9]float32
	var u [16]float32
	for o := 0; o < oc; o++ {
		for i := 0; i < ic; i++ {
			for tap := 0; tap < 9; tap++ {
				g[tap] = weight[(tap*ic+i)*oc+o]
			}
			transformKernelTile(&g, &u)

			off := ((o/4)*ic+i)*4 + o%4
			for t := 0; t < WinogradTileCount; t++ {
				dst[t*stride+off] = u[t]
			}
		}
	}
}

// transformKernelTile computes u = G g Gᵀ for a row-major 3×3 g with
// G = [[1,0,0],[½,½,½],[½,-½,½],[0,0,1]].
func transformKernelTile(g *[9]float32, u *[16]float32) {
	var tmp [4][3]float32
	for c := 0; c < 3; c++ {
		g0, g1, g2 := g[c], g[3+c], g[6+c]
		tmp[0][c] = g0
		tmp[1][c] = (g0 + g1 + g2) * 0.5
		tmp[2][c] = (g0 - g1 + g2) * 0.5
		tmp[3][c] = g2
	}
	for r := 0; r < 4; r++ {
		x0, x1, x2 := tmp[r][0], tmp[r][1], tmp[r][2]
		u[r*4+0] = x0
		u[r*4+1] = (x0 + x1 + x2) * 0.5
		u[r*4+2] = (x0 - x1 + x2) * 0.5
		u[r*4+3] = x2
	}
}

// Winograd holds the tiling of one channel-last image.
type Winograd struct {
	InH, InW, InC int
	Pad           int
	OutH, OutW    int
	TilesH        int
	TilesW        int
}

// NewWinograd plans the tiling of an (inH, inW, inC) image padded by pad on
// every side.
func NewWinograd(inH, inW, inC, pad int) Winograd {
	outH := inH + 2*pad - 2
	outW := inW + 2*pad - 2
	return Winograd{
		InH:    inH,
		InW:    inW,
		InC:    inC,
		Pad:    pad,
		OutH:   outH,
		OutW:   outW,
		TilesH: (outH + 1) / 2,
		TilesW: (outW + 1) / 2,
	}
}

// Tiles returns the number of 2×2 output tiles.
func (w Winograd) Tiles() int {
	return w.TilesH * w.TilesW
}

// InputSize returns the length of the transformed input buffer.
func (w Winograd) InputSize() int {
	return WinogradTileCount * w.Tiles() * w.InC
}

// ProductSize returns the length of the GEMM result buffer for oc output
// channels.
func (w Winograd) ProductSize(oc int) int {
	return WinogradTileCount * w.Tiles() * oc
}

// TransformInput computes Bᵀ d B for tiles [tileStart, tileEnd) of src and
// stores position t of tile n, channel c at dst[(t*Tiles()+n)*InC+c].
// Reads outside the image are zero.
func (w Winograd) TransformInput(src []float32, tileStart, tileEnd int, dst []float32) {
	tiles := w.Tiles()
	c := w.InC
	var d [16]float32

	for n := tileStart; n < tileEnd; n++ {
		y0 := (n/w.TilesW)*2 - w.Pad
		x0 := (n%w.TilesW)*2 - w.Pad

		for ch := 0; ch < c; ch++ {
			for r := 0; r < 4; r++ {
				y := y0 + r
				for q := 0; q < 4; q++ {
					x := x0 + q
					if y < 0 || y >= w.InH || x < 0 || x >= w.InW {
						d[r*4+q] = 0
					} else {
						d[r*4+q] = src[(y*w.InW+x)*c+ch]
					}
				}
			}

			v := transformInputTile(&d)
			for t := 0; t < WinogradTileCount; t++ {
				dst[(t*tiles+n)*c+ch] = v[t]
			}
		}
	}
}

// transformInputTile computes Bᵀ d B with
// Bᵀ = [[1,0,-1,0],[0,1,1,0],[0,-1,1,0],[0,1,0,-1]].
func transformInputTile(d *[16]float32) [16]float32 {
	var tmp, v [16]float32
	for q := 0; q < 4; q++ {
		d0, d1, d2, d3 := d[q], d[4+q], d[8+q], d[12+q]
		tmp[q] = d0 - d2
		tmp[4+q] = d1 + d2
		tmp[8+q] = d2 - d1
		tmp[12+q] = d1 - d3
	}
	for r := 0; r < 4; r++ {
		x0, x1, x2, x3 := tmp[r*4], tmp[r*4+1], tmp[r*4+2], tmp[r*4+3]
		v[r*4+0] = x0 - x2
		v[r*4+1] = x1 + x2
		v[r*4+2] = x2 - x1
		v[r*4+3] = x1 - x3
	}
	return v
}

// Multiply runs the GEMM for transformed position t over tile rows
// [rowStart, rowEnd): product[t] += input[t] · kernel[t]. product must be
// zeroed beforehand.
func (w Winograd) Multiply(t, oc int, input, kernel, product []float32, rowStart, rowEnd int) {
	tiles := w.Tiles()
	a := input[(t*tiles+rowStart)*w.InC:]
	b := kernel[t*PackedBSize(oc, w.InC):]
	c := product[(t*tiles+rowStart)*oc:]
	GemmPack4F32(rowEnd-rowStart, oc, w.InC, a, w.InC, b, c, oc)
}

// TransformOutput computes Aᵀ m A for tiles [tileStart, tileEnd) and writes
// the 2×2 results into the (OutH, OutW, oc) image dst. Tile positions past
// the output edge are dropped.
func (w Winograd) TransformOutput(product []float32, oc int, tileStart, tileEnd int, dst []float32) {
	tiles := w.Tiles()
	var m [16]float32

	for n := tileStart; n < tileEnd; n++ {
		y0 := (n / w.TilesW) * 2
		x0 := (n % w.TilesW) * 2

		for ch := 0; ch < oc; ch++ {
			for t := 0; t < WinogradTileCount; t++ {
				m[t] = product[(t*tiles+n)*oc+ch]
			}
			y := transformOutputTile(&m)

			for r := 0; r < 2; r++ {
				oy := y0 + r
				if oy >= w.OutH {
					break
				}
				for q := 0; q < 2; q++ {
					ox := x0 + q
					if ox >= w.OutW {
						break
					}
					dst[(oy*w.OutW+ox)*oc+ch] = y[r*2+q]
				}
			}
		}
	}
}

// transformOutputTile computes Aᵀ m A with Aᵀ = [[1,1,1,0],[0,1,-1,-1]].
func transformOutputTile(m *[16]float32) [4]float32 {
	var tmp [2][4]float32
	for q := 0; q < 4; q++ {
		m0, m1, m2, m3 := m[q], m[4+q], m[8+q], m[12+q]
		tmp[0][q] = m0 + m1 + m2
		tmp[1][q] = m1 - m2 - m3
	}
	var y [4]float32
	for r := 0; r < 2; r++ {
		x := tmp[r]
		y[r*2+0] = x[0] + x[1] + x[2]
		y[r*2+1] = x[1] - x[2] - x[3]
	}
	return y
}
