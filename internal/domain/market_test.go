package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMarket() Market {
	return Market{
		ID:        "KXBTC-25DEC31",
		Platform:  PlatformKalshi,
		Title:     "Bitcoin above $100k by year end?",
		Category:  "Crypto",
		CloseTime: time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC),
		Volume:    120_000,
		Conditions: []Condition{
			{Name: "Yes", YesPrice: 0.42, NoPrice: 0.58, YesAsk: Price(0.43), NoAsk: Price(0.59)},
		},
	}
}

func TestMarket_Validate_OK(t *testing.T) {
	require.NoError(t, validMarket().Validate())
}

func TestMarket_Validate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m *Market)
		want   error
		field  string
	}{
		{"empty id", func(m *Market) { m.ID = "" }, ErrInvalidMarket, "id"},
		{"unknown platform", func(m *Market) { m.Platform = "betfair" }, ErrInvalidMarket, "platform"},
		{"empty title", func(m *Market) { m.Title = "" }, ErrInvalidMarket, "title"},
		{"zero close", func(m *Market) { m.CloseTime = time.Time{} }, ErrInvalidMarket, "close_time"},
		{"no conditions", func(m *Market) { m.Conditions = nil }, ErrInvalidMarket, "conditions"},
		{"negative liquidity", func(m *Market) { m.Liquidity = Price(-1) }, ErrInvalidMarket, "liquidity"},
		{"empty condition name", func(m *Market) { m.Conditions[0].Name = "" }, ErrInvalidMarket, "name"},
		{"duplicate condition", func(m *Market) {
			m.Conditions = append(m.Conditions, m.Conditions[0])
		}, ErrInvalidMarket, "conditions[1].name"},
		{"yes price > 1", func(m *Market) { m.Conditions[0].YesPrice = 1.01 }, ErrInvalidPrice, "yes_price"},
		{"no price < 0", func(m *Market) { m.Conditions[0].NoPrice = -0.1 }, ErrInvalidPrice, "no_price"},
		{"NaN ask", func(m *Market) { m.Conditions[0].YesAsk = Price(math.NaN()) }, ErrInvalidPrice, "yes_ask"},
		{"bid > 1", func(m *Market) { m.Conditions[0].NoBid = Price(42) }, ErrInvalidPrice, "no_bid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMarket()
			tc.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Field, tc.field)
		})
	}
}

func TestMarket_Validate_DoesNotClamp(t *testing.T) {
	m := validMarket()
	m.Conditions[0].YesPrice = 1.5
	_ = m.Validate()
	assert.Equal(t, 1.5, m.Conditions[0].YesPrice)
}

func TestMarket_Key(t *testing.T) {
	assert.Equal(t, "kalshi:KXBTC-25DEC31", validMarket().Key())
}

func TestCondition_BuyPrices(t *testing.T) {
	c := Condition{Name: "Yes", YesPrice: 0.40, NoPrice: 0.62}
	assert.Equal(t, 0.40, c.BuyYes())
	assert.Equal(t, 0.62, c.BuyNo())

	c.YesAsk = Price(0.41)
	c.NoAsk = Price(0.60)
	assert.Equal(t, 0.41, c.BuyYes())
	assert.Equal(t, 0.60, c.BuyNo())
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysUntil(now, now))
	assert.Equal(t, 1, DaysUntil(now.Add(-time.Hour), now))
	assert.Equal(t, 1, DaysUntil(now.Add(23*time.Hour), now))
	assert.Equal(t, 2, DaysUntil(now.Add(25*time.Hour), now))
	assert.Equal(t, 365, DaysUntil(now.AddDate(1, 0, 0), now))
}

func TestMarketIndex_Lookup(t *testing.T) {
	m := validMarket()
	idx := NewMarketIndex([]Market{m})

	got, cond, ok := idx.Lookup(m.Key(), "Yes")
	require.True(t, ok)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "Yes", cond.Name)

	_, _, ok = idx.Lookup(m.Key(), "No")
	assert.False(t, ok)
	_, _, ok = idx.Lookup("polymarket:missing", "Yes")
	assert.False(t, ok)
}
