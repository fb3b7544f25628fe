package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/riskwatch/internal/models"
)

// PriceBand flags prices that leave a fixed [Lower, Upper] band and measures
// them against a reference price.
type PriceBand struct {
	Metric    string
	Reference float64
	Lower     float64
	Upper     float64
}

func DefaultPriceBand() PriceBand {
	return PriceBand{
		Metric:    "btc_price",
		Reference: 85000,
		Lower:     60000,
		Upper:     100000,
	}
}

// Check returns a high-severity anomaly carrying delta and delta_pct when
// price is outside the band. Non-positive and non-finite prices are ignored.
func (b PriceBand) Check(price float64) *models.Anomaly {
	if price <= 0 || !finite(price) || b.Reference <= 0 {
		return nil
	}
	if price >= b.Lower && price <= b.Upper {
		return nil
	}

	delta := price - b.Reference
	deltaPct := delta / b.Reference * 100
	direction := "above"
	bound := b.Upper
	if price < b.Lower {
		direction = "below"
		bound = b.Lower
	}

	return &models.Anomaly{
		Metric:        b.Metric,
		CurrentValue:  price,
		PreviousValue: models.Float(b.Reference),
		Severity:      models.SeverityHigh,
		Type:          models.AnomalySuddenChange,
		Delta:         models.Float(delta),
		DeltaPct:      models.Float(deltaPct),
		Message: fmt.Sprintf("%s at %.2f is %s the %.0f threshold (%+.2f, %+.2f%% vs %.0f reference)",
			b.Metric, price, direction, bound, delta, deltaPct, b.Reference),
		DetectedAt: time.Now(),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
