package carriers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

func quote(courier string, amount int64, eta int) Rate {
	return Rate{Courier: courier, Amount: decimal.NewFromInt(amount), EtaDays: eta}
}

func TestSelectRateTieBreaks(t *testing.T) {
	rates := []Rate{quote("A", 100, 5), quote("B", 80, 7), quote("C", 80, 3)}

	cheapest, ok := SelectRate(rates, enums.RateStrategyCheapest)
	require.True(t, ok)
	assert.Equal(t, "C", cheapest.Courier)

	fastest, ok := SelectRate(rates, enums.RateStrategyFastest)
	require.True(t, ok)
	assert.Equal(t, "C", fastest.Courier)
}

func TestSelectRateFastestBreaksTiesOnAmount(t *testing.T) {
	rates := []Rate{quote("A", 120, 2), quote("B", 90, 2), quote("C", 40, 6)}

	fastest, ok := SelectRate(rates, enums.RateStrategyFastest)
	require.True(t, ok)
	assert.Equal(t, "B", fastest.Courier)

	cheapest, ok := SelectRate(rates, enums.RateStrategyCheapest)
	require.True(t, ok)
	assert.Equal(t, "C", cheapest.Courier)
}

func TestSelectRateEmpty(t *testing.T) {
	_, ok := SelectRate(nil, enums.RateStrategyCheapest)
	assert.False(t, ok)

	_, ok = SelectRate([]Rate{{Courier: "bad", Amount: decimal.NewFromInt(-1)}}, enums.RateStrategyCheapest)
	assert.False(t, ok)
}

func TestMergeRatesSelectsGlobally(t *testing.T) {
	shiprocket := []Rate{quote("Bluedart", 95, 2), quote("Xpressbees", 70, 5)}
	delhivery := []Rate{quote("Delhivery Surface", 70, 4)}

	merged := MergeRates(shiprocket, delhivery)
	require.Len(t, merged, 3)

	best, ok := SelectRate(merged, enums.RateStrategyCheapest)
	require.True(t, ok)
	assert.Equal(t, "Delhivery Surface", best.Courier)
}
