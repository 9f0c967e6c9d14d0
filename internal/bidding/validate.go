package bidding

import "fmt"

type Reason string

const (
	ReasonInvalidAmount    Reason = "invalid_amount"
	ReasonInvalidPrice     Reason = "invalid_price"
	ReasonBelowMinimum     Reason = "below_minimum"
	ReasonAboveMaximum     Reason = "above_maximum"
	ReasonImplausible      Reason = "implausible_amount"
	ReasonStartTooLow      Reason = "start_below_minimum"
	ReasonMaxNotAboveStart Reason = "max_not_above_start"
)

// BidCheck is the input to ValidateBidAmount. MaxAllowed of zero means no ceiling.
type BidCheck struct {
	Amount       float64
	CurrentPrice float64
	MinPreBid    float64
	MaxAllowed   float64
}

// ValidationResult is advisory: the auction service makes the final decision.
// SuggestedAmount is zero when no suggestion applies.
type ValidationResult struct {
	Valid           bool    `json:"valid"`
	Reason          Reason  `json:"reason,omitempty"`
	Message         string  `json:"message,omitempty"`
	SuggestedAmount float64 `json:"suggestedAmount,omitempty"`
}

func (e *Engine) ValidateBidAmount(check BidCheck) ValidationResult {
	if !ValidPrices(check.CurrentPrice, check.MinPreBid) {
		return invalidPriceResult()
	}
	minimum := e.CalculateMinimumBid(check.CurrentPrice, check.MinPreBid)

	if !isFinite(check.Amount) || check.Amount <= 0 {
		return ValidationResult{
			Reason:          ReasonInvalidAmount,
			Message:         "bid amount must be a positive number",
			SuggestedAmount: minimum,
		}
	}

	if check.Amount < minimum {
		return ValidationResult{
			Reason:          ReasonBelowMinimum,
			Message:         fmt.Sprintf("minimum bid is %.2f", minimum),
			SuggestedAmount: minimum,
		}
	}

	if check.MaxAllowed > 0 && check.Amount > check.MaxAllowed {
		return ValidationResult{
			Reason:          ReasonAboveMaximum,
			Message:         fmt.Sprintf("bid exceeds your maximum of %.2f", check.MaxAllowed),
			SuggestedAmount: check.MaxAllowed,
		}
	}

	if check.CurrentPrice > 0 && check.Amount > check.CurrentPrice*e.implausibleFactor {
		return ValidationResult{
			Reason:          ReasonImplausible,
			Message:         "bid amount is unusually high, please check it",
			SuggestedAmount: check.CurrentPrice * e.implausibleSuggestionFactor,
		}
	}

	return ValidationResult{Valid: true}
}

func invalidPriceResult() ValidationResult {
	return ValidationResult{
		Reason:  ReasonInvalidPrice,
		Message: "current price and minimum pre-bid must be non-negative numbers",
	}
}

func ValidateBidAmount(check BidCheck) ValidationResult {
	return defaultEngine.ValidateBidAmount(check)
}
