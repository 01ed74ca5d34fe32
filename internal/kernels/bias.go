package kernels

// AddBiasNHWC adds bias[c] to every channel-last element dst[s*oc+c] for
// s in [0, spatial).
func AddBiasNHWC(bias []float32, spatial, oc int, dst []float32) {
	bias = bias[:oc]
	for s := 0; s < spatial; s++ {
		row := dst[s*oc : s*oc+oc]
		for c, b := range bias {
			row[c] += b
		}
	}
}
