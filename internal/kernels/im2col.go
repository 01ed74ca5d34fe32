package kernels

// ConvGeometry describes a 2-D convolution or pooling window over a single
// channel-last image.
type ConvGeometry struct {
	InH, InW             int
	KernelH, KernelW     int
	StrideH, StrideW     int
	DilationH, DilationW int
	PadTop, PadLeft      int
	PadBottom, PadRight  int
}

// OutH returns the output height.
func (g ConvGeometry) OutH() int {
	return (g.InH+g.PadTop+g.PadBottom-g.DilationH*(g.KernelH-1)-1)/g.StrideH + 1
}

// OutW returns the output width.
func (g ConvGeometry) OutW() int {
	return (g.InW+g.PadLeft+g.PadRight-g.DilationW*(g.KernelW-1)-1)/g.StrideW + 1
}

// Im2Col lowers output rows [rowStart, rowEnd) of a convolution into a
// column matrix. src is an (InH, InW, channels) image; the lowered channels
// are [chanOffset, chanOffset+chanCount). dst receives one row per output
// pixel of length KernelH*KernelW*chanCount, ordered (ky, kx, c) to match
// HWIO weights. Padding reads as zero.
func Im2Col(g ConvGeometry, src []float32, channels, chanOffset, chanCount int, rowStart, rowEnd int, dst []float32) {
	outW := g.OutW()
	rowLen := g.KernelH * g.KernelW * chanCount

	for r := rowStart; r < rowEnd; r++ {
		oy, ox := r/outW, r%outW
		d := dst[(r-rowStart)*rowLen : (r-rowStart+1)*rowLen]
		idx := 0
		for ky := 0; ky < g.KernelH; ky++ {
			iy := oy*g.StrideH - g.PadTop + ky*g.DilationH
			for kx := 0; kx < g.KernelW; kx++ {
				ix := ox*g.StrideW - g.PadLeft + kx*g.DilationW
				seg := d[idx : idx+chanCount]
				idx += chanCount
				if iy < 0 || iy >= g.InH || ix < 0 || ix >= g.InW {
					clear(seg)
					continue
				}
				base := (iy*g.InW+ix)*channels + chanOffset
				copy(seg, src[base:base+chanCount])
			}
		}
	}
}
