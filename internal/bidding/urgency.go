package bidding

type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

// Countdown thresholds, in seconds, at which urgency escalates.
const (
	mediumUrgencySeconds   = 60
	highUrgencySeconds     = 30
	criticalUrgencySeconds = 10
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNone:
		return "none"
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BidUrgency grades how soon a bidder has to act given the server countdown.
func BidUrgency(remainingSeconds int, isLive bool) Urgency {
	if !isLive || remainingSeconds <= 0 {
		return UrgencyNone
	}
	switch {
	case remainingSeconds <= criticalUrgencySeconds:
		return UrgencyCritical
	case remainingSeconds <= highUrgencySeconds:
		return UrgencyHigh
	case remainingSeconds <= mediumUrgencySeconds:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// IsOutbid reports whether the highest bid belongs to someone else while the
// bidder still has an active bid in the lot.
func IsOutbid(highestBidderID, bidderID string, hasBid bool) bool {
	return hasBid && highestBidderID != "" && highestBidderID != bidderID
}
