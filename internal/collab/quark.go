package collab

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Trade is one completed trade in the quark portfolio history.
type Trade struct {
	Symbol    string  `json:"symbol,omitempty"`
	Result    string  `json:"result"` // "win" or "loss"
	Profit    float64 `json:"profit"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Portfolio is the quark trading state read from its JSON file.
type Portfolio struct {
	StartingBalance float64 `json:"starting_balance"`
	Balance         float64 `json:"balance"`
	Trades          []Trade `json:"trades"`
}

// Quark reads the trading portfolio file maintained by the quark agent.
type Quark struct {
	path   string
	logger zerolog.Logger
}

// NewQuark creates a portfolio reader for the given file path.
func NewQuark(path string, logger zerolog.Logger) *Quark {
	return &Quark{
		path:   path,
		logger: logger.With().Str("component", "collab.quark").Logger(),
	}
}

// Path returns the watched portfolio file path.
func (q *Quark) Path() string { return q.path }

// Read loads and decodes the portfolio. A missing file is not an error —
// the agent may not have traded yet — and yields an empty portfolio.
func (q *Quark) Read() (Portfolio, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return Portfolio{}, nil
	}
	if err != nil {
		return Portfolio{}, fmt.Errorf("reading portfolio: %w", err)
	}

	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return Portfolio{}, fmt.Errorf("decoding portfolio: %w", err)
	}
	return p, nil
}
