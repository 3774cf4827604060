package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ADFResult is an augmented Dickey-Fuller test with a constant term.
type ADFResult struct {
	Stat   float64
	PValue float64
	Lags   int
	NObs   int
}

// ADF regresses Δy_t on a constant, y_{t-1} and lags lagged differences and
// returns the t-statistic of the y_{t-1} coefficient with its MacKinnon
// p-value.
func ADF(y []float64, lags int) (ADFResult, error) {
	if lags < 0 {
		lags = 0
	}
	n := len(y)
	nobs := n - 1 - lags
	k := 2 + lags
	if nobs <= k+1 {
		return ADFResult{}, fmt.Errorf("adf with %d points and %d lags: %w", n, lags, ErrTooShort)
	}
	x := mat.NewDense(nobs, k, nil)
	dy := mat.NewVecDense(nobs, nil)
	for row := 0; row < nobs; row++ {
		t := row + 1 + lags
		dy.SetVec(row, y[t]-y[t-1])
		x.Set(row, 0, 1)
		x.Set(row, 1, y[t-1])
		for j := 1; j <= lags; j++ {
			x.Set(row, 1+j, y[t-j]-y[t-j-1])
		}
	}
	beta, s2, inv, err := ols(x, dy)
	if err != nil {
		return ADFResult{}, err
	}
	se := math.Sqrt(s2 * inv.At(1, 1))
	if se == 0 || math.IsNaN(se) {
		return ADFResult{}, ErrSingular
	}
	stat := beta.AtVec(1) / se
	return ADFResult{Stat: stat, PValue: MacKinnonPValue(stat), Lags: lags, NObs: nobs}, nil
}

// MacKinnon (1994) response-surface coefficients for the constant-only case
// with a single series.
const (
	tauMax  = 2.74
	tauMin  = -18.83
	tauStar = -1.61
)

var (
	tauSmallP = [3]float64{2.1659, 1.4412, 3.8269e-02}
	tauLargeP = [4]float64{1.7339, 9.3202e-01, -1.2745e-01, -1.0368e-02}
)

// MacKinnonPValue approximates the p-value of an ADF statistic.
func MacKinnonPValue(stat float64) float64 {
	switch {
	case math.IsNaN(stat):
		return 1
	case stat > tauMax:
		return 1
	case stat < tauMin:
		return 0
	}
	var z float64
	if stat <= tauStar {
		z = tauSmallP[0] + stat*(tauSmallP[1]+stat*tauSmallP[2])
	} else {
		z = tauLargeP[0] + stat*(tauLargeP[1]+stat*(tauLargeP[2]+stat*tauLargeP[3]))
	}
	return distuv.UnitNormal.CDF(z)
}
