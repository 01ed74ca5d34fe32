package kernels

// PackedBSize returns the length of a packed right-hand side for an
// n-column, k-row matrix.
func PackedBSize(n, k int) int {
	return (n + 3) / 4 * 4 * k
}

// PackB packs the row-major k×n matrix b (leading dimension ldb) into panels
// of four columns: dst[(p*k+kk)*4+q] = b[kk][4p+q]. Columns past n are zero.
// dst must hold PackedBSize(n, k) values.
func PackB(n, k int, b []float32, ldb int, dst []float32) {
	panels := (n + 3) / 4
	for p := 0; p < panels; p++ {
		col := p * 4
		valid := min(4, n-col)
		for kk := 0; kk < k; kk++ {
			d := dst[(p*k+kk)*4 : (p*k+kk)*4+4]
			row := b[kk*ldb+col:]
			for q := 0; q < 4; q++ {
				if q < valid {
					d[q] = row[q]
				} else {
					d[q] = 0
				}
			}
		}
	}
}

// GemmPack4F32 accumulates C += A·B where A is m×k row-major with leading
// dimension lda, B is packed by PackB, and C is m×n row-major with leading
// dimension ldc.
//
// Columns are processed in blocks of 12 then 4, rows in blocks of 4 then
// one. Only the n valid columns of C are written.
func GemmPack4F32(m, n, k int, a []float32, lda int, b []float32, c []float32, ldc int) {
	if m <= 0 || n <= 0 || k <= 0 {
		return
	}
	panels := (n + 3) / 4

	p := 0
	for ; p+3 <= panels; p += 3 {
		b0 := b[p*k*4:]
		b1 := b[(p+1)*k*4:]
		b2 := b[(p+2)*k*4:]
		col := p * 4
		valid := min(12, n-col)

		i := 0
		for ; i+4 <= m; i += 4 {
			gemm4x12(k, a[i*lda:], lda, b0, b1, b2, c[i*ldc+col:], ldc, valid)
		}
		for ; i < m; i++ {
			gemm1x12(k, a[i*lda:], b0, b1, b2, c[i*ldc+col:], valid)
		}
	}

	for ; p < panels; p++ {
		b0 := b[p*k*4:]
		col := p * 4
		valid := min(4, n-col)

		i := 0
		for ; i+4 <= m; i += 4 {
			gemm4x4(k, a[i*lda:], lda, b0, c[i*ldc+col:], ldc, valid)
		}
		for ; i < m; i++ {
			gemm1x4(k, a[i*lda:], b0, c[i*ldc+col:], valid)
		}
	}
}

func gemm4x12(k int, a []float32, lda int, b0, b1, b2 []float32, c []float32, ldc, valid int) {
	var acc [4][12]float32
	a0, a1, a2, a3 := a, a[lda:], a[2*lda:], a[3*lda:]

	for kk := 0; kk < k; kk++ {
		p0 := b0[kk*4 : kk*4+4]
		p1 := b1[kk*4 : kk*4+4]
		p2 := b2[kk*4 : kk*4+4]
		for r, av := range [4]float32{a0[kk], a1[kk], a2[kk], a3[kk]} {
			row := &acc[r]
			row[0] += av * p0[0]
			row[1] += av * p0[1]
			row[2] += av * p0[2]
			row[3] += av * p0[3]
			row[4] += av * p1[0]
			row[5] += av * p1[1]
			row[6] += av * p1[2]
			row[7] += av * p1[3]
			row[8] += av * p2[0]
			row[9] += av * p2[1]
			row[10] += av * p2[2]
			row[11] += av * p2[3]
		}
	}

	for r := 0; r < 4; r++ {
		addTo(c[r*ldc:], acc[r][:], valid)
	}
}

func gemm1x12(k int, a []float32, b0, b1, b2 []float32, c []float32, valid int) {
	var acc [12]float32
	for kk := 0; kk < k; kk++ {
		av := a[kk]
		p0 := b0[kk*4 : kk*4+4]
		p1 := b1[kk*4 : kk*4+4]
		p2 := b2[kk*4 : kk*4+4]
		acc[0] += av * p0[0]
		acc[1] += av * p0[1]
		acc[2] += av * p0[2]
		acc[3] += av * p0[3]
		acc[4] += av * p1[0]
		acc[5] += av * p1[1]
		acc[6] += av * p1[2]
		acc[7] += av * p1[3]
		acc[8] += av * p2[0]
		acc[9] += av * p2[1]
		acc[10] += av * p2[2]
		acc[11] += av * p2[3]
	}
	addTo(c, acc[:], valid)
}

func gemm4x4(k int, a []float32, lda int, b0 []float32, c []float32, ldc, valid int) {
	var acc [4][4]float32
	a0, a1, a2, a3 := a, a[lda:], a[2*lda:], a[3*lda:]

	for kk := 0; kk < k; kk++ {
		p0 := b0[kk*4 : kk*4+4]
		for r, av := range [4]float32{a0[kk], a1[kk], a2[kk], a3[kk]} {
			row := &acc[r]
			row[0] += av * p0[0]
			row[1] += av * p0[1]
			row[2] += av * p0[2]
			row[3] += av * p0[3]
		}
	}

	for r := 0; r < 4; r++ {
		addTo(c[r*ldc:], acc[r][:], valid)
	}
}

func gemm1x4(k int, a []float32, b0 []float32, c []float32, valid int) {
	var acc [4]float32
	for kk := 0; kk < k; kk++ {
		av := a[kk]
		p0 := b0[kk*4 : kk*4+4]
		acc[0] += av * p0[0]
		acc[1] += av * p0[1]
		acc[2] += av * p0[2]
		acc[3] += av * p0[3]
	}
	addTo(c, acc[:], valid)
}

// addTo adds the first valid accumulators into dst.
func addTo(dst, acc []float32, valid int) {
	dst = dst[:valid]
	for q := range dst {
		dst[q] += acc[q]
	}
}

// GemmPack4F32Ref is the textbook triple loop over the same operands as
// GemmPack4F32.
func GemmPack4F32Ref(m, n, k int, a []float32, lda int, b []float32, c []float32, ldc int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			p, q := j/4, j%4
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += a[i*lda+kk] * b[(p*k+kk)*4+q]
			}
			c[i*ldc+j] += sum
		}
	}
}

// Gemm accumulates C += A·B for a row-major k×n B. It packs B into a scratch
// buffer first; callers that reuse B should pack once with PackB and call
// GemmPack4F32 directly.
func Gemm(m, n, k int, a []float32, lda int, b []float32, ldb int, c []float32, ldc int) {
	if m <= 0 || n <= 0 || k <= 0 {
		return
	}
	packed := make([]float32, PackedBSize(n, k))
	PackB(n, k, b, ldb, packed)
	GemmPack4F32(m, n, k, a, lda, packed, c, ldc)
}
