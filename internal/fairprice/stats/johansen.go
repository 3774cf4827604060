package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Trace-statistic critical values (90%, 95%, 99%) for the constant-term case,
// indexed by the number of non-stationary components left (n - r).
var traceCritical = [][3]float64{
	{2.7055, 3.8415, 6.6349},
	{13.4294, 15.4943, 19.9349},
	{27.0669, 29.7961, 35.4628},
}

const MaxJohansenDim = 3

// JohansenResult carries eigenvalues in descending order, the matching
// cointegrating vectors (columns of Vectors, unit length) and trace
// statistics for ranks 0..n-1.
type JohansenResult struct {
	Eigenvalues []float64
	Vectors     [][]float64
	Trace       []float64
	Critical95  []float64
	NObs        int
}

// Rank returns how many leading relations reject the null of a lower rank at
// the 95% level, testing sequentially from r = 0.
func (r JohansenResult) Rank() int {
	for i := range r.Trace {
		if r.Trace[i] <= r.Critical95[i] {
			return i
		}
	}
	return len(r.Trace)
}

// Johansen runs the trace test on series (one slice per variable, equal
// lengths) with a constant term and one lagged difference.
func Johansen(series [][]float64) (JohansenResult, error) {
	n := len(series)
	if n < 1 || n > MaxJohansenDim {
		return JohansenResult{}, fmt.Errorf("johansen supports 1..%d series, got %d", MaxJohansenDim, n)
	}
	T := len(series[0])
	for _, s := range series {
		if len(s) != T {
			return JohansenResult{}, fmt.Errorf("series lengths differ: %d vs %d", len(s), T)
		}
	}
	m := T - 2
	if m <= 2*n+2 {
		return JohansenResult{}, fmt.Errorf("johansen with %d points: %w", T, ErrTooShort)
	}

	levels := mat.NewDense(T, n, nil)
	for j, s := range series {
		for t, v := range s {
			levels.Set(t, j, v)
		}
	}
	demean(levels)

	// Δx_t = Π x_{t-1} + Γ Δx_{t-1} + ε, rows t = 2..T-1.
	y0 := mat.NewDense(m, n, nil)
	y1 := mat.NewDense(m, n, nil)
	z := mat.NewDense(m, n, nil)
	for row := 0; row < m; row++ {
		t := row + 2
		for j := 0; j < n; j++ {
			y0.Set(row, j, levels.At(t, j)-levels.At(t-1, j))
			z.Set(row, j, levels.At(t-1, j)-levels.At(t-2, j))
			y1.Set(row, j, levels.At(t-1, j))
		}
	}
	demean(y0)
	demean(z)
	demean(y1)

	r0, err := residualize(z, y0)
	if err != nil {
		return JohansenResult{}, err
	}
	r1, err := residualize(z, y1)
	if err != nil {
		return JohansenResult{}, err
	}

	var s00, s11, s10 mat.Dense
	s00.Mul(r0.T(), r0)
	s00.Scale(1/float64(m), &s00)
	s11.Mul(r1.T(), r1)
	s11.Scale(1/float64(m), &s11)
	s10.Mul(r1.T(), r0)
	s10.Scale(1/float64(m), &s10)

	var s00inv mat.Dense
	if err := s00inv.Inverse(&s00); err != nil {
		return JohansenResult{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	s11isqrt, err := invSqrtSym(&s11)
	if err != nil {
		return JohansenResult{}, err
	}

	// S11^-1/2 S10 S00^-1 S01 S11^-1/2 is symmetric and shares eigenvalues
	// with S11^-1 S10 S00^-1 S01.
	var a, b, c mat.Dense
	a.Mul(&s10, &s00inv)
	b.Mul(&a, s10.T())
	a.Mul(s11isqrt, &b)
	c.Mul(&a, s11isqrt)
	sym := symmetrize(&c)

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return JohansenResult{}, fmt.Errorf("eigen decomposition failed: %w", ErrSingular)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	var beta mat.Dense
	beta.Mul(s11isqrt, &vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })

	res := JohansenResult{
		Eigenvalues: make([]float64, n),
		Vectors:     make([][]float64, n),
		Trace:       make([]float64, n),
		Critical95:  make([]float64, n),
		NObs:        m,
	}
	for i, idx := range order {
		lambda := math.Min(math.Max(values[idx], 0), 1-1e-12)
		res.Eigenvalues[i] = lambda
		vec := make([]float64, n)
		for j := 0; j < n; j++ {
			vec[j] = beta.At(j, idx)
		}
		res.Vectors[i] = normalize(vec)
	}
	for r := 0; r < n; r++ {
		var sum float64
		for i := r; i < n; i++ {
			sum += math.Log(1 - res.Eigenvalues[i])
		}
		res.Trace[r] = -float64(m) * sum
		res.Critical95[r] = traceCritical[n-r-1][1]
	}
	return res, nil
}

func invSqrtSym(m *mat.Dense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(symmetrize(m), true) {
		return nil, fmt.Errorf("eigen decomposition failed: %w", ErrSingular)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := len(values)
	diag := mat.NewDense(n, n, nil)
	for i, v := range values {
		if v <= 1e-14 {
			return nil, fmt.Errorf("non-positive eigenvalue %g: %w", v, ErrSingular)
		}
		diag.Set(i, i, 1/math.Sqrt(v))
	}
	var tmp, out mat.Dense
	tmp.Mul(&vecs, diag)
	out.Mul(&tmp, vecs.T())
	return &out, nil
}

func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return sym
}

// normalize scales v to unit length with a positive first non-zero entry.
func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	sign := 1.0
	for _, x := range v {
		if x != 0 {
			if x < 0 {
				sign = -1
			}
			break
		}
	}
	for i := range v {
		v[i] = sign * v[i] / norm
	}
	return v
}

// Cosine returns the cosine similarity between a and b.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
