package comms

// Trader is the capability set the auction house needs from a registered
// participant: a mailbox to deliver results into, and the settlement
// mutators invoked during clearing. Implementations synchronize internally
// so a clearing attempt and the trader's own production step cannot
// interleave mid-update.
//
// The atomic flag on Try* methods selects all-or-nothing semantics: with
// atomic=true a shortfall mutates nothing and reports zero; with
// atomic=false the transfer saturates at what is available.
type Trader interface {
	ID() int
	ClassName() string
	ReceiveMessage(Message)

	HasMoney(amount float64) bool
	HasCommodity(commodity string, quantity int) bool

	TryTakeMoney(amount float64, atomic bool) float64
	ForceTakeMoney(amount float64)
	AddMoney(amount float64)

	// unitPrice <= 0 means "no acquisition price": stored counts move but
	// the amortized original cost is left untouched.
	TryTakeCommodity(commodity string, quantity int, unitPrice float64, atomic bool) int
	TryAddCommodity(commodity string, quantity int, unitPrice float64, atomic bool) int
}
