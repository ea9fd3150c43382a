// README: Pricing rate and fare breakdown definitions.
package pricing

// Rate is the tariff applied to a trip. Surge multiplies the whole fare.
type Rate struct {
	Name      string
	BaseFare  float64
	PerKm     float64
	PerMinute float64
	Surge     float64
	Currency  string
}

// DefaultRate is used when no rate is configured in the store.
var DefaultRate = Rate{
	Name:      "standard",
	BaseFare:  2.5,
	PerKm:     1.5,
	PerMinute: 0.35,
	Surge:     1.0,
	Currency:  "USD",
}

// Breakdown itemizes a priced fare. TotalFare is rounded to cents; the
// components are kept unrounded.
type Breakdown struct {
	BaseFare     float64 `json:"base_fare"`
	DistanceFare float64 `json:"distance_fare"`
	TimeFare     float64 `json:"time_fare"`
	Surge        float64 `json:"surge"`
	TotalFare    float64 `json:"total_fare"`
	Currency     string  `json:"currency"`
}
