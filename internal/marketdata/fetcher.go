package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quantlab/alphaevolve/internal/domain"
)

// CSVFetcher loads candle series from a directory of CSV files named
// "<SYMBOL>_<TIMEFRAME>.csv" with rows of "timestamp,open,high,low,close,volume".
// This is the same file layout the external executor consumes.
type CSVFetcher struct {
	dir string
}

// NewCSVFetcher creates a fetcher rooted at dir.
func NewCSVFetcher(dir string) *CSVFetcher {
	return &CSVFetcher{dir: dir}
}

// Fetch reads and parses the CSV file for the market, trimming to the
// market's lookback window.
func (f *CSVFetcher) Fetch(ctx context.Context, market domain.MarketConfig) (*Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s_%s.csv", market.Symbol, market.Timeframe))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open market data file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 6

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cutoff := time.Now().AddDate(0, 0, -market.LookbackDays).Unix()

	series := &Series{
		Symbol:    market.Symbol,
		Timeframe: market.Timeframe,
	}
	for i, row := range rows {
		// Tolerate a header row
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("bad timestamp at %s:%d: %w", path, i+1, err)
		}
		if ts < cutoff {
			continue
		}

		candle := Candle{Time: ts}
		fields := []*float64{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume}
		for j, dst := range fields {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad value at %s:%d:%d: %w", path, i+1, j+2, err)
			}
			*dst = v
		}
		series.Candles = append(series.Candles, candle)
	}

	if len(series.Candles) == 0 {
		return nil, fmt.Errorf("no candles within lookback window in %s", path)
	}

	return series, nil
}

// WriteCSV materializes a series into dir as the executor's expected file
// layout and returns the file path.
func (s *Series) WriteCSV(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", s.Symbol, s.Timeframe))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	for _, c := range s.Candles {
		record := []string{
			strconv.FormatInt(c.Time, 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write candle row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}

	return path, nil
}

// Slice returns a copy of the series restricted to candles [from, to). The
// bounds are clamped; the candle slice is shared, not copied.
func (s *Series) Slice(from, to int) *Series {
	if from < 0 {
		from = 0
	}
	if to > len(s.Candles) {
		to = len(s.Candles)
	}
	if from >= to {
		from, to = 0, 0
	}
	return &Series{
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Candles:   s.Candles[from:to],
		FetchedAt: s.FetchedAt,
	}
}

// Closes returns the close prices of the series.
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}
