package model

// Asset represents a tradeable product on the venue.
// Increments are expressed as decimal places, e.g. quote_increment "0.01" → 2.
// Sourced once from the venue product list and read-only thereafter.
type Asset struct {
	Symbol        string `json:"symbol"` // e.g. "BTC-USD"
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`

	// QuoteIncrement is the number of decimal places of the quote currency
	// tick size (used to round quote-denominated order sizes).
	QuoteIncrement int32 `json:"quote_increment"`

	// BaseIncrement is the number of decimal places of the base currency
	// step size. 0 means the venue trades whole base units only.
	BaseIncrement int32 `json:"base_increment"`
}

// Balance is a single-currency account balance as reported by the venue.
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	UUID      string  `json:"uuid"`
}
