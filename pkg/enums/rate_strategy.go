package enums

import (
	"fmt"
	"strings"
)

// RateStrategy picks a courier from a list of quotes.
type RateStrategy string

const (
	RateStrategyCheapest RateStrategy = "cheapest"
	RateStrategyFastest  RateStrategy = "fastest"
)

func (r RateStrategy) String() string {
	return string(r)
}

func (r RateStrategy) IsValid() bool {
	return r == RateStrategyCheapest || r == RateStrategyFastest
}

// ParseRateStrategy defaults blank input to cheapest.
func ParseRateStrategy(value string) (RateStrategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return RateStrategyCheapest, nil
	}
	strategy := RateStrategy(normalized)
	if !strategy.IsValid() {
		return "", fmt.Errorf("invalid rate strategy %q", value)
	}
	return strategy, nil
}
