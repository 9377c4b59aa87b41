package ib

// Broker error codes the agent recognizes.
const (
	CodeNoSecurityDefinition = 200   // no security definition found for the request
	CodeHistoricalNoData     = 162   // historical market data service error / no data
	CodeSnapshotExceeded     = 10090 // snapshot request ceiling hit
	CodeSnapshotNotAllowed   = 10167 // requested market data is not subscribed
	CodeMarketDataFarm       = 2104  // market data farm connection is OK
	CodeHistDataFarm         = 2106  // historical data farm connection is OK
	CodeSecDefFarm           = 2158  // sec-def data farm connection is OK
)

// IsBenign reports whether the code means "no data for this request":
// expected during a chain walk, handled by releasing the request's
// correlation mark so the scanner moves on. Never logged as a failure.
func IsBenign(code int) bool {
	switch code {
	case CodeNoSecurityDefinition, CodeHistoricalNoData, CodeSnapshotExceeded, CodeSnapshotNotAllowed:
		return true
	}
	return false
}

// IsStatus reports whether the code is a connection status notice rather
// than an error tied to a request.
func IsStatus(code int) bool {
	switch code {
	case CodeMarketDataFarm, CodeHistDataFarm, CodeSecDefFarm:
		return true
	}
	return false
}
