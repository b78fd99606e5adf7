// Package portfolio merges imported holdings into dated snapshots and keeps
// position weights summing to exactly one whole in basis points.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/expense-tracker/pkg/money"
)

// TotalBps is 100% expressed in basis points.
const TotalBps = 10000

// Position is one holding inside a snapshot.
type Position struct {
	Symbol           string              `json:"symbol"`
	CompanyName      string              `json:"companyName"`
	Exchange         string              `json:"exchange,omitempty"`
	Currency         string              `json:"currency"`
	LogoURL          string              `json:"logoUrl,omitempty"`
	MarketValueCents int64               `json:"marketValueCents"`
	Shares           decimal.NullDecimal `json:"shares"`
	WeightBps        int                 `json:"weightBps"`
}

// ErrCurrencyMismatch is returned when one symbol is held in two currencies.
var ErrCurrencyMismatch = errors.New("position currency does not match")

// MarketValue returns the market value as Money.
func (p Position) MarketValue() *money.Money {
	return money.New(p.MarketValueCents, p.Currency)
}

// MarshalJSON adds the market value as Money (amount, currency, display).
func (p Position) MarshalJSON() ([]byte, error) {
	type position Position
	return json.Marshal(struct {
		position
		MarketValue *money.Money `json:"marketValue"`
	}{position(p), p.MarketValue()})
}

// addValue adds p's market value to cur. A blank currency takes the other
// side's.
func addValue(cur *Position, p Position) error {
	if cur.Currency == "" {
		cur.Currency = p.Currency
	}
	if p.Currency == "" {
		p.Currency = cur.Currency
	}
	sum, err := cur.MarketValue().Add(p.MarketValue())
	if err != nil {
		return fmt.Errorf("%w: %s is held in %s and %s", ErrCurrencyMismatch, cur.Symbol, cur.Currency, p.Currency)
	}
	cur.MarketValueCents = sum.Amount()
	return nil
}

// MergePositions folds imported positions into existing ones, keyed by
// upper-cased symbol. Market values and share counts of a symbol present on
// both sides are added and its metadata is taken from the import. The result
// is ordered by market value descending, then symbol, and carries freshly
// apportioned weights. A symbol held in two different currencies returns
// ErrCurrencyMismatch.
func MergePositions(existing, imported []Position) ([]Position, error) {
	bySymbol := make(map[string]int, len(existing)+len(imported))
	merged := make([]Position, 0, len(existing)+len(imported))

	for _, p := range existing {
		p.Symbol = strings.ToUpper(p.Symbol)
		if i, ok := bySymbol[p.Symbol]; ok {
			if err := addValue(&merged[i], p); err != nil {
				return nil, err
			}
			merged[i].Shares = addShares(merged[i].Shares, p.Shares)
			continue
		}
		bySymbol[p.Symbol] = len(merged)
		merged = append(merged, p)
	}

	for _, p := range imported {
		p.Symbol = strings.ToUpper(p.Symbol)
		i, ok := bySymbol[p.Symbol]
		if !ok {
			bySymbol[p.Symbol] = len(merged)
			merged = append(merged, p)
			continue
		}
		cur := &merged[i]
		if err := addValue(cur, p); err != nil {
			return nil, err
		}
		cur.Shares = addShares(cur.Shares, p.Shares)
		cur.CompanyName = p.CompanyName
		cur.Exchange = p.Exchange
		cur.Currency = p.Currency
		cur.LogoURL = p.LogoURL
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].MarketValueCents != merged[b].MarketValueCents {
			return merged[a].MarketValueCents > merged[b].MarketValueCents
		}
		return merged[a].Symbol < merged[b].Symbol
	})

	values := make([]int64, len(merged))
	for i, p := range merged {
		values[i] = p.MarketValueCents
	}
	for i, w := range ApportionWeights(values) {
		merged[i].WeightBps = w
	}
	return merged, nil
}

func addShares(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case !a.Valid:
		return b
	case !b.Valid:
		return a
	}
	return decimal.NewNullDecimal(a.Decimal.Add(b.Decimal))
}

// ApportionWeights splits TotalBps across values proportionally using the
// largest remainder method: every value gets the floor of its exact share and
// the leftover units go one by one to the largest fractional remainders, ties
// to the lower index. The result always sums to TotalBps unless the total of
// values is not positive, in which case every weight is zero.
func ApportionWeights(values []int64) []int {
	weights := make([]int, len(values))

	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromInt(v))
	}
	if !total.IsPositive() {
		return weights
	}

	whole := decimal.NewFromInt(TotalBps)
	remainders := make([]decimal.Decimal, len(values))
	assigned := 0
	for i, v := range values {
		if v <= 0 {
			continue
		}
		q, r := decimal.NewFromInt(v).Mul(whole).QuoRem(total, 0)
		weights[i] = int(q.IntPart())
		remainders[i] = r
		assigned += weights[i]
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})

	for k := 0; assigned < TotalBps && k < len(order); k++ {
		weights[order[k]]++
		assigned++
	}
	return weights
}
