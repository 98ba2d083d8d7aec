package domain

import "fmt"

// Condition is one input of the provider eligibility gate.
type Condition string

const (
	ConditionPaymentMethod   Condition = "payment_method_on_file"
	ConditionBackgroundCheck Condition = "background_check_clear"
	ConditionNDA             Condition = "nda_accepted"
	ConditionPenalties       Condition = "no_outstanding_penalties"
)

var conditionMessages = map[Condition]string{
	ConditionPaymentMethod:   "payment method required: add a card before accepting jobs",
	ConditionBackgroundCheck: "background check must be clear before accepting jobs",
	ConditionNDA:             "the provider agreement must be accepted before accepting jobs",
	ConditionPenalties:       "outstanding penalties must be resolved first",
}

// UnmetConditions lists every gate input p fails, in a fixed order.
// outstanding must hold the provider's penalties; only assessed ones count.
func UnmetConditions(p *ProviderProfile, outstanding []Penalty) []Condition {
	var unmet []Condition
	if !p.HasPaymentMethodOnFile {
		unmet = append(unmet, ConditionPaymentMethod)
	}
	if p.BackgroundCheckStatus != BackgroundCheckClear {
		unmet = append(unmet, ConditionBackgroundCheck)
	}
	if !p.NDAAccepted {
		unmet = append(unmet, ConditionNDA)
	}
	if countOutstanding(outstanding) > 0 {
		unmet = append(unmet, ConditionPenalties)
	}
	return unmet
}

// CanAcceptJobs is the eligibility gate.
func CanAcceptJobs(p *ProviderProfile, outstanding []Penalty) bool {
	return len(UnmetConditions(p, outstanding)) == 0
}

// CheckEligibility returns an ineligible_provider error naming the first
// unmet condition, or nil.
func CheckEligibility(p *ProviderProfile, outstanding []Penalty) error {
	unmet := UnmetConditions(p, outstanding)
	if len(unmet) == 0 {
		return nil
	}

	cond := unmet[0]
	msg := conditionMessages[cond]
	if cond == ConditionPenalties {
		msg = fmt.Sprintf("%s (%s)", msg, OutstandingTotal(outstanding))
	}
	return &Error{
		Kind:      KindInvalidTransition,
		Reason:    ReasonIneligibleProvider,
		Condition: cond,
		Message:   msg,
	}
}

// OutstandingTotal sums the assessed penalties.
func OutstandingTotal(penalties []Penalty) Money {
	var total Money
	for _, p := range penalties {
		if p.Status == PenaltyStatusAssessed {
			total += p.Amount
		}
	}
	return total
}

func countOutstanding(penalties []Penalty) int {
	n := 0
	for _, p := range penalties {
		if p.Status == PenaltyStatusAssessed {
			n++
		}
	}
	return n
}
