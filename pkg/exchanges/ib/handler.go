package ib

// Handler receives decoded inbound messages on the pump goroutine. Only the
// callbacks the console consumes are listed; embed NoopHandler to pick the
// ones an implementation needs.
type Handler interface {
	OnNextValidID(m NextValidID)
	OnManagedAccounts(m ManagedAccounts)
	OnCurrentTime(m CurrentTime)
	OnSymbolSamples(m SymbolSamples)
	OnContractData(m ContractData)
	OnContractDataEnd(m ContractDataEnd)
	OnSecDefOptParams(m SecDefOptParams)
	OnSecDefOptParamsEnd(m SecDefOptParamsEnd)
	OnTickPrice(m TickPrice)
	OnTickSize(m TickSize)
	OnOrderStatus(m OrderStatus)
	OnOpenOrder(m OpenOrder)
	OnError(m ErrorMsg)
	OnMarketDataType(m MarketDataType)
}

// NoopHandler ignores every message.
type NoopHandler struct{}

func (NoopHandler) OnNextValidID(NextValidID)               {}
func (NoopHandler) OnManagedAccounts(ManagedAccounts)       {}
func (NoopHandler) OnCurrentTime(CurrentTime)               {}
func (NoopHandler) OnSymbolSamples(SymbolSamples)           {}
func (NoopHandler) OnContractData(ContractData)             {}
func (NoopHandler) OnContractDataEnd(ContractDataEnd)       {}
func (NoopHandler) OnSecDefOptParams(SecDefOptParams)       {}
func (NoopHandler) OnSecDefOptParamsEnd(SecDefOptParamsEnd) {}
func (NoopHandler) OnTickPrice(TickPrice)                   {}
func (NoopHandler) OnTickSize(TickSize)                     {}
func (NoopHandler) OnOrderStatus(OrderStatus)               {}
func (NoopHandler) OnOpenOrder(OpenOrder)                   {}
func (NoopHandler) OnError(ErrorMsg)                        {}
func (NoopHandler) OnMarketDataType(MarketDataType)         {}

var _ Handler = NoopHandler{}

// Dispatch routes msg to the matching callback. It reports false for
// messages without a callback.
func Dispatch(h Handler, msg Message) bool {
	switch m := msg.(type) {
	case NextValidID:
		h.OnNextValidID(m)
	case ManagedAccounts:
		h.OnManagedAccounts(m)
	case CurrentTime:
		h.OnCurrentTime(m)
	case SymbolSamples:
		h.OnSymbolSamples(m)
	case ContractData:
		h.OnContractData(m)
	case ContractDataEnd:
		h.OnContractDataEnd(m)
	case SecDefOptParams:
		h.OnSecDefOptParams(m)
	case SecDefOptParamsEnd:
		h.OnSecDefOptParamsEnd(m)
	case TickPrice:
		h.OnTickPrice(m)
	case TickSize:
		h.OnTickSize(m)
	case OrderStatus:
		h.OnOrderStatus(m)
	case OpenOrder:
		h.OnOpenOrder(m)
	case ErrorMsg:
		h.OnError(m)
	case MarketDataType:
		h.OnMarketDataType(m)
	default:
		return false
	}
	return true
}
