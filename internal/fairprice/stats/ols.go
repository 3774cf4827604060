// Package stats holds the time-series tests behind the cointegration model:
// the Johansen trace test, the augmented Dickey-Fuller test and MacKinnon
// approximate p-values.
package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrTooShort = errors.New("series too short")
	ErrSingular = errors.New("singular design matrix")
)

// residualize returns y minus its least-squares projection on x.
func residualize(x, y *mat.Dense) (*mat.Dense, error) {
	var xtx, inv, xty, coef, fitted, resid mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	xty.Mul(x.T(), y)
	coef.Mul(&inv, &xty)
	fitted.Mul(x, &coef)
	resid.Sub(y, &fitted)
	return &resid, nil
}

// ols fits y = x·b and returns b, the residual variance and (x'x)^-1.
func ols(x *mat.Dense, y *mat.VecDense) (*mat.VecDense, float64, *mat.Dense, error) {
	n, k := x.Dims()
	if n <= k {
		return nil, 0, nil, fmt.Errorf("%d observations for %d regressors: %w", n, k, ErrTooShort)
	}
	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var xty, beta, fitted, resid mat.VecDense
	xty.MulVec(x.T(), y)
	beta.MulVec(&inv, &xty)
	fitted.MulVec(x, &beta)
	resid.SubVec(y, &fitted)
	rss := mat.Dot(&resid, &resid)
	return &beta, rss / float64(n-k), &inv, nil
}

// demean subtracts each column's mean in place.
func demean(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += m.At(i, j)
		}
		mean := sum / float64(r)
		for i := 0; i < r; i++ {
			m.Set(i, j, m.At(i, j)-mean)
		}
	}
}
