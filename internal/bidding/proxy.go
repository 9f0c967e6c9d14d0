package bidding

import "fmt"

type ProxyBidResult struct {
	Valid             bool   `json:"valid"`
	Reason            Reason `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	EstimatedBidCount int    `json:"estimatedBidCount"`
}

// CalculateProxyBidParams validates a proxy bid range and estimates how many
// automatic raises the auction service could place between start and max.
// The simulation stops after MaxProxyIterations steps.
func (e *Engine) CalculateProxyBidParams(startAmount, maxAmount, currentPrice, minPreBid float64) ProxyBidResult {
	if !isFinite(startAmount) || !isFinite(maxAmount) || startAmount <= 0 || maxAmount <= 0 {
		return ProxyBidResult{
			Reason:  ReasonInvalidAmount,
			Message: "proxy bid amounts must be positive numbers",
		}
	}

	if !ValidPrices(currentPrice, minPreBid) {
		price := invalidPriceResult()
		return ProxyBidResult{Reason: price.Reason, Message: price.Message}
	}

	minimum := e.CalculateMinimumBid(currentPrice, minPreBid)
	if startAmount < minimum {
		return ProxyBidResult{
			Reason:  ReasonStartTooLow,
			Message: fmt.Sprintf("starting bid must be at least %.2f", minimum),
		}
	}

	if maxAmount <= startAmount {
		return ProxyBidResult{
			Reason:  ReasonMaxNotAboveStart,
			Message: "maximum bid must be greater than the starting bid",
		}
	}

	count := 0
	running := startAmount
	for running < maxAmount && count < e.maxProxyIterations {
		running += e.CalculateIncrement(running)
		count++
	}

	return ProxyBidResult{Valid: true, EstimatedBidCount: count}
}

func CalculateProxyBidParams(startAmount, maxAmount, currentPrice, minPreBid float64) ProxyBidResult {
	return defaultEngine.CalculateProxyBidParams(startAmount, maxAmount, currentPrice, minPreBid)
}
