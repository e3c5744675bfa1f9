package scheduler

import "github.com/r3e-network/faas-core/internal/faas"

// FunctionLatestFetcher resolves a function's most recently deployed
// version. *store.FunctionStore satisfies this without scheduler needing
// to import the store package's LevelDB-backed types.
type FunctionLatestFetcher interface {
	Latest(id string) (*faas.Function, error)
}

// StoreConcurrencyLookup implements ConcurrencyLookup by reading the
// function's own deployed ResourceLimits.ConcurrencyCap (§4.2/§5: "stricter
// serialization must be opt-in by the function's configuration"). A lookup
// failure (e.g. the function was retired mid-flight) falls back to 0, which
// perFnCap treats as "use the scheduler default".
type StoreConcurrencyLookup struct {
	Functions FunctionLatestFetcher
}

// ConcurrencyCap implements ConcurrencyLookup.
func (l StoreConcurrencyLookup) ConcurrencyCap(functionID string) int {
	fn, err := l.Functions.Latest(functionID)
	if err != nil {
		return 0
	}
	return fn.Limits.ConcurrencyCap
}
