// Package stock provides the historical price capability used by the price analyst.
package stock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// ToolName is the capability name shown to the model.
const ToolName = "stock_price_history"

// Default window of the price history when the model does not pass dates.
const (
	DefaultStart = "2023-01-01"
	DefaultEnd   = "2023-12-31"
	dateLayout   = "2006-01-02"
)

// Bar is one trading day.
type Bar struct {
	Date   string  `json:"date" yaml:"date"`
	Open   float64 `json:"open" yaml:"open"`
	High   float64 `json:"high" yaml:"high"`
	Low    float64 `json:"low" yaml:"low"`
	Close  float64 `json:"close" yaml:"close"`
	Volume int64   `json:"volume" yaml:"volume"`
}

// PriceSource returns the daily series of a symbol within [start, end].
type PriceSource interface {
	History(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Args are the capability arguments.
type Args struct {
	Symbol string `json:"symbol" jsonschema:"required,description=Stock ticker symbol such as AAPL"`
	Start  string `json:"start,omitempty" jsonschema:"description=First day (YYYY-MM-DD),default=2023-01-01"`
	End    string `json:"end,omitempty" jsonschema:"description=Last day (YYYY-MM-DD),default=2023-12-31"`
}

// NewCapability builds the price history capability over src.
func NewCapability(src PriceSource) (tool.Capability, error) {
	if src == nil {
		return nil, fmt.Errorf("price source is required")
	}
	return tool.NewWithValidation(
		tool.Config{
			Name:        ToolName,
			Description: "Fetches the daily price history (open, high, low, close, volume) of a stock symbol between two dates.",
			Tags:        []string{"stock", "price", "history", "trend", "market"},
		},
		func(ctx context.Context, args Args) (any, error) {
			start, end, err := args.window()
			if err != nil {
				return nil, err
			}
			return src.History(ctx, strings.ToUpper(strings.TrimSpace(args.Symbol)), start, end)
		},
		func(args Args) error {
			start, end, err := args.window()
			if err != nil {
				return err
			}
			if end.Before(start) {
				return fmt.Errorf("end %s is before start %s", args.End, args.Start)
			}
			return nil
		},
	)
}

func (a Args) window() (time.Time, time.Time, error) {
	startRaw, endRaw := a.Start, a.End
	if startRaw == "" {
		startRaw = DefaultStart
	}
	if endRaw == "" {
		endRaw = DefaultEnd
	}
	start, err := time.Parse(dateLayout, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startRaw)
	}
	end, err := time.Parse(dateLayout, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endRaw)
	}
	return start, end, nil
}

// FixtureSource serves price series held in memory, usually loaded from a
// YAML or JSON fixture file. Unknown symbols yield an empty series.
type FixtureSource struct {
	mu     sync.RWMutex
	series map[string][]Bar
}

type fixtureFile struct {
	Symbols map[string][]Bar `yaml:"symbols"`
}

// NewFixtureSource builds a source from per-symbol series.
func NewFixtureSource(series map[string][]Bar) *FixtureSource {
	s := &FixtureSource{series: make(map[string][]Bar, len(series))}
	for sym, bars := range series {
		s.Put(sym, bars)
	}
	return s
}

// LoadFixtureFile reads a fixture file of the form {symbols: {AAPL: [bars...]}}.
func LoadFixtureFile(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price fixture: %w", err)
	}
	src, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// ParseFixture decodes fixture data. JSON is accepted as a subset of YAML.
func ParseFixture(data []byte) (*FixtureSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse price fixture: %w", err)
	}
	return NewFixtureSource(f.Symbols), nil
}

// Put replaces the series of a symbol.
func (s *FixtureSource) Put(symbol string, bars []Bar) {
	sorted := append([]Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[strings.ToUpper(symbol)] = sorted
}

// History implements PriceSource.
func (s *FixtureSource) History(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := start.Format(dateLayout), end.Format(dateLayout)
	var out []Bar
	for _, bar := range s.series[strings.ToUpper(symbol)] {
		if bar.Date >= from && bar.Date <= to {
			out = append(out, bar)
		}
	}
	return out, nil
}
