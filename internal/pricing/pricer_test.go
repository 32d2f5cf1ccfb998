package pricing

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	items := []Item{{SKU: "A", Quantity: 2}, {SKU: "B", Quantity: 3}}

	total, err := Sum(items, map[string]int64{"A": 1299, "B": 50}, "USD")
	require.NoError(t, err)
	assert.Equal(t, Total{Currency: "USD", AmountCents: 2748}, total)

	_, err = Sum(items, map[string]int64{"A": 1299}, "USD")
	assert.True(t, errors.Is(err, ErrPriceNotFound))

	total, err = Sum(nil, nil, "EUR")
	require.NoError(t, err)
	assert.Equal(t, Total{Currency: "EUR"}, total)
}

func TestCatalogPricer_Total(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM sku_prices")).
		WithArgs("USD", []string{"A", "B"}).
		WillReturnRows(pgxmock.NewRows([]string{"sku", "unit_price_cents"}).
			AddRow("A", int64(1299)).
			AddRow("B", int64(500)))

	total, err := NewCatalogPricer(mock).Total(context.Background(),
		[]Item{{SKU: "A", Quantity: 2}, {SKU: "B", Quantity: 1}}, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(3098), total.AmountCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogPricer_EmptyCartSkipsQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	total, err := NewCatalogPricer(mock).Total(context.Background(), nil, "USD")
	require.NoError(t, err)
	assert.Equal(t, Total{Currency: "USD"}, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
