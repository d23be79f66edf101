package scratchcard

// Reason names why a redemption was refused.
type Reason string

const (
	ReasonNotFound           Reason = "NotFound"
	ReasonAlreadyUsed        Reason = "AlreadyUsed"
	ReasonExpired            Reason = "Expired"
	ReasonDisabled           Reason = "Disabled"
	ReasonTermMismatch       Reason = "TermMismatch"
	ReasonStudentMismatch    Reason = "StudentMismatch"
	ReasonUsageLimitExceeded Reason = "UsageLimitExceeded"
)

const messageRedeemed = "Card redeemed successfully."

// Message is the user-facing text for the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "Invalid PIN."
	case ReasonAlreadyUsed, ReasonUsageLimitExceeded:
		return "This card has already been used."
	case ReasonExpired:
		return "This card has expired."
	case ReasonDisabled:
		return "This card is no longer valid."
	case ReasonTermMismatch:
		return "This card is not valid for the selected term."
	case ReasonStudentMismatch:
		return "This card has already been used for another student."
	default:
		return "This card cannot be used."
	}
}

// RedemptionResult is the outcome of a redemption attempt. Success decides
// which fields are set: usage counters on success, Reason on failure.
type RedemptionResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Reason        Reason `json:"reason,omitempty"`
	SerialNumber  string `json:"serial_number,omitempty"`
	UsageCount    *int   `json:"usage_count,omitempty"`
	MaxUsage      *int   `json:"max_usage,omitempty"`
	RemainingUses *int   `json:"remaining_uses,omitempty"`
	IsExpired     *bool  `json:"is_expired,omitempty"`
}

func redeemed(c *ScratchCard) *RedemptionResult {
	usage, limit, remaining := c.UsageCount, c.MaxUsage, c.RemainingUses()
	expired := false
	return &RedemptionResult{
		Success:       true,
		Message:       messageRedeemed,
		SerialNumber:  c.SerialNumber,
		UsageCount:    &usage,
		MaxUsage:      &limit,
		RemainingUses: &remaining,
		IsExpired:     &expired,
	}
}

func rejected(reason Reason) *RedemptionResult {
	res := &RedemptionResult{
		Success: false,
		Message: reason.Message(),
		Reason:  reason,
	}
	if reason == ReasonExpired {
		expired := true
		res.IsExpired = &expired
	}
	return res
}
