package patch

// EvaluateBasis computes the control point weights of a patch of type typ
// at (u,v), given in the base face's parameter space. wP receives the
// position weights; wDs and wDt, when both are non-nil, receive the
// first derivative weights with respect to u and v. Slices must hold at
// least typ.NumControlVertices() entries. It returns the number of
// weights written, 0 for unknown types.
func EvaluateBasis(typ Type, param Param, u, v float32, wP, wDs, wDt []float32) int {
	s, t := param.Normalize(u, v)
	if wDs == nil || wDt == nil {
		wDs, wDt = nil, nil
	}

	var n int
	switch typ {
	case Quads:
		n = evalBilinear(s, t, wP, wDs, wDt)
	case Regular:
		n = evalBSpline(s, t, wP, wDs, wDt)
		if mask := param.Boundary(); mask != 0 {
			adjustBoundaryWeights(mask, wP)
			if wDs != nil {
				adjustBoundaryWeights(mask, wDs)
				adjustBoundaryWeights(mask, wDt)
			}
		}
	case GregoryBasis:
		n = evalGregory(s, t, wP, wDs, wDt)
	default:
		return 0
	}

	if wDs != nil {
		scale := 1 / param.Fraction()
		for i := range n {
			wDs[i] *= scale
			wDt[i] *= scale
		}
	}
	return n
}

// evalBilinear writes the weights of corners ordered (0,0) (1,0) (1,1) (0,1).
func evalBilinear(s, t float32, wP, wDs, wDt []float32) int {
	sc, tc := 1-s, 1-t
	if wP != nil {
		wP[0] = sc * tc
		wP[1] = s * tc
		wP[2] = s * t
		wP[3] = sc * t
	}
	if wDs != nil {
		wDs[0], wDs[1], wDs[2], wDs[3] = -tc, tc, t, -t
		wDt[0], wDt[1], wDt[2], wDt[3] = -sc, -s, s, sc
	}
	return 4
}

// bsplineCurve returns the uniform cubic B-spline basis and its derivative.
func bsplineCurve(t float32) (b, d [4]float32) {
	t2 := t * t
	t3 := t2 * t
	tc := 1 - t
	const sixth = 1.0 / 6.0

	b[0] = sixth * tc * tc * tc
	b[1] = sixth * (3*t3 - 6*t2 + 4)
	b[2] = sixth * (-3*t3 + 3*t2 + 3*t + 1)
	b[3] = sixth * t3

	d[0] = -0.5 * tc * tc
	d[1] = 1.5*t2 - 2*t
	d[2] = -1.5*t2 + t + 0.5
	d[3] = 0.5 * t2
	return b, d
}

// evalBSpline writes 16 weights in row-major order: index 4*row+col, with
// rows along v and columns along u.
func evalBSpline(s, t float32, wP, wDs, wDt []float32) int {
	bs, ds := bsplineCurve(s)
	bt, dt := bsplineCurve(t)
	for row := range 4 {
		for col := range 4 {
			i := 4*row + col
			if wP != nil {
				wP[i] = bs[col] * bt[row]
			}
			if wDs != nil {
				wDs[i] = ds[col] * bt[row]
				wDt[i] = bs[col] * dt[row]
			}
		}
	}
	return 16
}

// adjustBoundaryWeights folds the weights of missing boundary rows into
// their neighbours, extrapolating phantom points as 2*P0 - P1.
func adjustBoundaryWeights(mask int, w []float32) {
	if mask&BoundaryV0 != 0 {
		for i := range 4 {
			w[i+8] -= w[i]
			w[i+4] += 2 * w[i]
			w[i] = 0
		}
	}
	if mask&BoundaryU1 != 0 {
		for i := 0; i < 16; i += 4 {
			w[i+1] -= w[i+3]
			w[i+2] += 2 * w[i+3]
			w[i+3] = 0
		}
	}
	if mask&BoundaryV1 != 0 {
		for i := range 4 {
			w[i+4] -= w[i+12]
			w[i+8] += 2 * w[i+12]
			w[i+12] = 0
		}
	}
	if mask&BoundaryU0 != 0 {
		for i := 0; i < 16; i += 4 {
			w[i+2] -= w[i]
			w[i+1] += 2 * w[i]
			w[i] = 0
		}
	}
}

// bezierCurve returns the cubic Bernstein basis and its derivative.
func bezierCurve(t float32) (b, d [4]float32) {
	tc := 1 - t
	b[0] = tc * tc * tc
	b[1] = 3 * t * tc * tc
	b[2] = 3 * t * t * tc
	b[3] = t * t * t

	d[0] = -3 * tc * tc
	d[1] = 3 * tc * (1 - 3*t)
	d[2] = 3 * t * (2 - 3*t)
	d[3] = 3 * t * t
	return b, d
}

// Gregory basis point layout: for each corner c, points 5c+0..5c+4 are
// the corner P, edge points Ep and Em, and face points Fp and Fm.
var (
	gregoryBoundary = [12]int{0, 1, 7, 5, 2, 6, 16, 12, 15, 17, 11, 10}
	gregoryBoundCol = [12]int{0, 1, 2, 3, 0, 3, 0, 3, 0, 1, 2, 3}
	gregoryBoundRow = [12]int{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 3, 3}

	gregoryInterior = [8]int{3, 4, 8, 9, 13, 14, 18, 19}
	gregoryIntCol   = [8]int{1, 1, 2, 2, 2, 2, 1, 1}
	gregoryIntRow   = [8]int{1, 1, 1, 1, 2, 2, 2, 2}
)

// evalGregory writes 20 weights for the Gregory basis. Each pair of face
// points at a corner is blended rationally into the Bezier interior
// point of that corner.
func evalGregory(s, t float32, wP, wDs, wDt []float32) int {
	sc, tc := 1-s, 1-t

	df := [4]float32{s + t, sc + t, sc + tc, s + tc}
	for i := range df {
		if df[i] <= 0 {
			df[i] = 1
		}
	}
	num := [8]float32{s, t, t, sc, sc, tc, tc, s}
	var g [8]float32
	for j := range g {
		g[j] = num[j] / df[j/2]
	}

	bs, dbs := bezierCurve(s)
	bt, dbt := bezierCurve(t)

	if wP != nil {
		for i, idx := range gregoryBoundary {
			wP[idx] = bs[gregoryBoundCol[i]] * bt[gregoryBoundRow[i]]
		}
		for j, idx := range gregoryInterior {
			wP[idx] = bs[gregoryIntCol[j]] * bt[gregoryIntRow[j]] * g[j]
		}
	}
	if wDs == nil {
		return 20
	}

	for i, idx := range gregoryBoundary {
		col, row := gregoryBoundCol[i], gregoryBoundRow[i]
		wDs[idx] = dbs[col] * bt[row]
		wDt[idx] = bs[col] * dbt[row]
	}

	// Partial derivatives of the rational multipliers g.
	d0, d1, d2, d3 := df[0]*df[0], df[1]*df[1], df[2]*df[2], df[3]*df[3]
	gds := [8]float32{
		t / d0, -t / d0,
		t / d1, -t / d1,
		-tc / d2, tc / d2,
		-tc / d3, tc / d3,
	}
	gdt := [8]float32{
		-s / d0, s / d0,
		sc / d1, -sc / d1,
		sc / d2, -sc / d2,
		-s / d3, s / d3,
	}
	for j, idx := range gregoryInterior {
		col, row := gregoryIntCol[j], gregoryIntRow[j]
		b := bs[col] * bt[row]
		wDs[idx] = dbs[col]*bt[row]*g[j] + b*gds[j]
		wDt[idx] = bs[col]*dbt[row]*g[j] + b*gdt[j]
	}
	return 20
}
