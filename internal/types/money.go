// README: Common money value object used in order summaries.
package types

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
