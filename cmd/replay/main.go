package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"fairprice-bot/internal/config"
	"fairprice-bot/internal/fairprice"
	"fairprice-bot/internal/logging"
	"fairprice-bot/internal/market"
	"fairprice-bot/internal/venue/paper"

	"go.uber.org/zap"
)

// replay runs the fair-price estimator over CSV ticks read from stdin and
// writes one row per instrument and tick to stdout. Null beliefs leave the
// fair and stddev columns empty.
func main() {
	configPath := flag.String("config", "config.yaml", "config file for the estimator section")
	venue := flag.String("venue", "paper", "venue for instruments given without a prefix")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ticks, err := paper.ReadTicksCSV(os.Stdin, *venue)
	if err != nil {
		fatal(err)
	}
	if len(ticks) == 0 {
		fatal(fmt.Errorf("no ticks on stdin"))
	}
	if err := run(cfg.Estimator, ticks, os.Stdout, log); err != nil {
		fatal(err)
	}
}

func run(cfg config.EstimatorConfig, ticks []market.Tick, out io.Writer, log *zap.Logger) error {
	est, err := fairprice.New(cfg, ticks[0].Keys(), log)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	if err := w.Write([]string{"time", "instrument", "price", "fair", "stddev"}); err != nil {
		return err
	}
	for _, tick := range ticks {
		set, err := est.Update(tick)
		if err != nil {
			return err
		}
		for _, k := range set.Keys() {
			b := set[k]
			row := []string{tick.Time.Format(time.RFC3339), k.String(), formatFloat(tick.Price(k)), "", ""}
			if !b.IsNull() {
				row[3] = formatFloat(b.Mean)
				row[4] = formatFloat(b.Stddev())
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	log.Info("replay finished", zap.Int("ticks", len(ticks)), zap.Int("relations", est.Relations()))
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
