package detector

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXTREME POINT DETECTOR - Online extremum tracking + reversal confirmation
// ═══════════════════════════════════════════════════════════════════════════════
//
// One detector per tracking window. For a BUY window the extreme is the
// running low; a reversal is a confirmed rebound above it. For SELL the
// mirror image. Confirmation requires N consecutive samples moving away
// from the extreme plus a minimum percentage move.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config controls reversal detection for one window
type Config struct {
	ReversalThreshold   float64 // percent rebound from extreme required
	ConfirmationPeriods int     // consecutive confirming samples required
	NoiseThreshold      float64 // percent, moves below this never shift the extreme
	MaxMovePercent      float64 // move that maps to strength 1.0
	HistoryLimit        int     // 0 = 5x confirmation periods
}

// Detector tracks the running extreme and evaluates reversals over a
// bounded recent history. Not safe for concurrent use; the owning
// tracker serializes access.
type Detector struct {
	cfg        Config
	signalType types.SignalType

	history    []types.PricePoint
	extreme    decimal.Decimal
	hasExtreme bool

	volumeSum decimal.Decimal
}

// New validates the configuration and builds a detector. Construction
// is the only hard-failure point; malformed points mid-stream are
// ignored, never fatal.
func New(cfg Config, signalType types.SignalType) (*Detector, error) {
	if cfg.ReversalThreshold < 0.1 || cfg.ReversalThreshold > 5.0 {
		return nil, fmt.Errorf("reversal threshold %.3f out of range [0.1, 5.0]", cfg.ReversalThreshold)
	}
	if cfg.ConfirmationPeriods < 1 || cfg.ConfirmationPeriods > 5 {
		return nil, fmt.Errorf("confirmation periods %d out of range [1, 5]", cfg.ConfirmationPeriods)
	}
	if cfg.NoiseThreshold < 0 {
		return nil, fmt.Errorf("noise threshold must not be negative, got %.3f", cfg.NoiseThreshold)
	}
	if cfg.MaxMovePercent <= 0 {
		return nil, fmt.Errorf("max move percent must be positive, got %.3f", cfg.MaxMovePercent)
	}
	if signalType != types.SignalBuy && signalType != types.SignalSell {
		return nil, fmt.Errorf("unknown signal type %q", signalType)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = cfg.ConfirmationPeriods * 5
	}

	d := &Detector{volumeSum: decimal.Zero}
	d.cfg = cfg
	d.Reset(signalType)
	return d, nil
}

// Reset clears all history and sets the detection direction
func (d *Detector) Reset(signalType types.SignalType) {
	d.signalType = signalType
	d.history = d.history[:0]
	d.extreme = decimal.Zero
	d.hasExtreme = false
	d.volumeSum = decimal.Zero
}

// AddPricePoint records a sample and reports whether it set a new
// extreme. Invalid samples are dropped.
func (d *Detector) AddPricePoint(point types.PricePoint) bool {
	if point.Price.LessThanOrEqual(decimal.Zero) || point.Volume.IsNegative() {
		log.Debug().
			Str("price", point.Price.String()).
			Str("volume", point.Volume.String()).
			Msg("Dropping malformed price point")
		return false
	}

	isNew := d.isNewExtreme(point.Price)
	if isNew {
		d.extreme = point.Price
		d.hasExtreme = true
		point.IsExtreme = true
	}

	d.history = append(d.history, point)
	d.volumeSum = d.volumeSum.Add(point.Volume)
	if len(d.history) > d.cfg.HistoryLimit {
		dropped := d.history[0]
		d.volumeSum = d.volumeSum.Sub(dropped.Volume)
		d.history = d.history[1:]
	}

	return isNew
}

// isNewExtreme applies the direction rule plus the noise filter
func (d *Detector) isNewExtreme(price decimal.Decimal) bool {
	if !d.hasExtreme {
		return true
	}

	var improved bool
	if d.signalType == types.SignalBuy {
		improved = price.LessThan(d.extreme)
	} else {
		improved = price.GreaterThan(d.extreme)
	}
	if !improved {
		return false
	}

	// Sub-noise moves are microstructure churn, not a better extreme
	movePct := price.Sub(d.extreme).Abs().Div(d.extreme).InexactFloat64() * 100
	return movePct >= d.cfg.NoiseThreshold
}

// IsValidExtreme reports whether a point could legitimately become the
// new extreme: positive price, non-negative volume, a move past the
// noise floor, and not anomalously thin volume versus the recent
// average.
func (d *Detector) IsValidExtreme(point types.PricePoint) bool {
	if point.Price.LessThanOrEqual(decimal.Zero) || point.Volume.IsNegative() {
		return false
	}
	if !d.isNewExtreme(point.Price) {
		return false
	}
	avg := d.averageVolume()
	if avg.IsPositive() && point.Volume.IsPositive() {
		// Below 10% of the recent average looks like a stray print
		if point.Volume.LessThan(avg.Mul(decimal.NewFromFloat(0.1))) {
			return false
		}
	}
	return true
}

// DetectPriceReversal evaluates the recent run against the extreme.
// Returns nil until a confirmed reversal is present.
func (d *Detector) DetectPriceReversal() *types.ReversalSignal {
	if !d.hasExtreme || len(d.history) < d.cfg.ConfirmationPeriods+1 {
		return nil
	}

	recent := d.history[len(d.history)-d.cfg.ConfirmationPeriods:]
	last := recent[len(recent)-1]

	// Every confirming sample must move away from the extreme
	prev := d.history[len(d.history)-d.cfg.ConfirmationPeriods-1]
	for _, p := range recent {
		if d.signalType == types.SignalBuy {
			if !p.Price.GreaterThan(prev.Price) {
				return nil
			}
		} else {
			if !p.Price.LessThan(prev.Price) {
				return nil
			}
		}
		prev = p
	}

	movePct := last.Price.Sub(d.extreme).Abs().Div(d.extreme).InexactFloat64() * 100
	if movePct < d.cfg.ReversalThreshold {
		return nil
	}

	strength := math.Min(1.0, movePct/d.cfg.MaxMovePercent)

	return &types.ReversalSignal{
		Timestamp:          last.Timestamp,
		Price:              last.Price,
		Strength:           strength,
		Confidence:         d.confidence(strength),
		VolumeConfirmation: d.volumeConfirmed(last),
		Reason: fmt.Sprintf("%.2f%% move from extreme %s over %d periods",
			movePct, d.extreme.String(), d.cfg.ConfirmationPeriods),
	}
}

// confidence blends directional consistency, normalized magnitude and
// a mild recency weighting (0.4 / 0.4 / 0.2).
func (d *Detector) confidence(strength float64) float64 {
	n := len(d.history)
	lookback := d.cfg.ConfirmationPeriods * 2
	if lookback > n-1 {
		lookback = n - 1
	}
	if lookback <= 0 {
		return 0.4 * strength
	}

	consistent := 0.0
	recency := 0.0
	weightSum := 0.0
	for i := 0; i < lookback; i++ {
		a := d.history[n-lookback-1+i]
		b := d.history[n-lookback+i]
		up := b.Price.GreaterThan(a.Price)
		expected := up == (d.signalType == types.SignalBuy)

		w := float64(i + 1)
		weightSum += w
		if expected {
			consistent++
			recency += w
		}
	}

	score := 0.4*(consistent/float64(lookback)) + 0.4*strength + 0.2*(recency/weightSum)
	return math.Min(1.0, score)
}

// volumeConfirmed is true when the last sample traded >20% above the
// window's average volume
func (d *Detector) volumeConfirmed(last types.PricePoint) bool {
	avg := d.averageVolume()
	if !avg.IsPositive() {
		return false
	}
	return last.Volume.GreaterThan(avg.Mul(decimal.NewFromFloat(1.2)))
}

func (d *Detector) averageVolume() decimal.Decimal {
	if len(d.history) == 0 {
		return decimal.Zero
	}
	return d.volumeSum.Div(decimal.NewFromInt(int64(len(d.history))))
}

// Extreme returns the current extreme price (ok=false before any
// sample established one)
func (d *Detector) Extreme() (decimal.Decimal, bool) {
	return d.extreme, d.hasExtreme
}

// SampleCount returns the retained history length
func (d *Detector) SampleCount() int {
	return len(d.history)
}
