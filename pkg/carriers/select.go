package carriers

import (
	"github.com/samber/lo"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// SelectRate reduces quotes with the merchant strategy. Cheapest picks the
// minimum amount then the lowest eta; fastest picks the lowest eta then the
// minimum amount. Quotes with a negative amount are ignored.
func SelectRate(rates []Rate, strategy enums.RateStrategy) (Rate, bool) {
	usable := lo.Filter(rates, func(r Rate, _ int) bool {
		return !r.Amount.IsNegative() && r.EtaDays >= 0
	})
	if len(usable) == 0 {
		return Rate{}, false
	}

	less := cheaper
	if strategy == enums.RateStrategyFastest {
		less = faster
	}
	return lo.MinBy(usable, less), true
}

// MergeRates concatenates quotes gathered from several adapters.
func MergeRates(lists ...[]Rate) []Rate {
	return lo.Flatten(lists)
}

func cheaper(a, b Rate) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c < 0
	}
	return a.EtaDays < b.EtaDays
}

func faster(a, b Rate) bool {
	if a.EtaDays != b.EtaDays {
		return a.EtaDays < b.EtaDays
	}
	return a.Amount.LessThan(b.Amount)
}
