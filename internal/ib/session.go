package ib

// Session is a live broker connection: the outbound request surface plus
// the inbound event stream. The wire layer (handshake, framing, response
// correlation) lives behind this interface and is supplied at startup.
type Session interface {
	Requester
	Events() <-chan Event
	Close() error
}

// NopSession is a disconnected session: every request succeeds without
// effect and no events ever arrive. Used for dry runs and wiring checks.
type NopSession struct {
	nopRequester
	events chan Event
}

var _ Session = (*NopSession)(nil)

func NewNopSession() *NopSession {
	return &NopSession{events: make(chan Event)}
}

func (s *NopSession) Events() <-chan Event { return s.events }

func (s *NopSession) Close() error {
	close(s.events)
	return nil
}

type nopRequester struct{}

func (nopRequester) ReqAccountUpdates(bool, string) error                 { return nil }
func (nopRequester) ReqIDs() error                                        { return nil }
func (nopRequester) ReqOpenOrders() error                                 { return nil }
func (nopRequester) ReqMarketDataType(MarketDataType) error               { return nil }
func (nopRequester) ReqContractDetails(int64, ContractSpec) error         { return nil }
func (nopRequester) ReqSecDefOptParams(int64, string, string, int64) error { return nil }
func (nopRequester) ReqMktData(int64, ContractSpec, string, bool) error   { return nil }
func (nopRequester) ReqHistoricalData(int64, ContractSpec, string, string, string) error {
	return nil
}
func (nopRequester) PlaceOrder(int64, ContractSpec, Order) error { return nil }
func (nopRequester) CancelOrder(int64) error                     { return nil }
