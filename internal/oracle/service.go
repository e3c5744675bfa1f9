package oracle

import "context"

// Service adapts an Aggregator and a Randomizer to sandbox.OraclePort,
// matching the adapter pattern used by gasbank.Service and metatx.Service.
type Service struct {
	Aggregator *Aggregator
	Randomizer *Randomizer
}

// NewService builds a Service.
func NewService(aggregator *Aggregator, randomizer *Randomizer) *Service {
	return &Service{Aggregator: aggregator, Randomizer: randomizer}
}

// Price implements sandbox.OraclePort.
func (s *Service) Price(ctx context.Context, asset, currency string) (interface{}, error) {
	return s.Aggregator.Price(ctx, asset, currency)
}

// Random implements sandbox.OraclePort.
func (s *Service) Random(ctx context.Context, min, max int64, count int) ([]byte, error) {
	result, err := s.Randomizer.Random(ctx, min, max, count)
	if err != nil {
		return nil, err
	}
	return result.Bytes, nil
}
