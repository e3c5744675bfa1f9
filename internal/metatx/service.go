package metatx

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// Service adapts Relayer to the sandbox.MetaTxPort host-API port: it
// decodes the untyped `request` argument handed up from JS into a typed
// Request before delegating to Submit.
type Service struct {
	Relayer *Relayer
}

// NewService builds the sandbox-facing meta-tx adapter.
func NewService(relayer *Relayer) *Service { return &Service{Relayer: relayer} }

// Submit implements sandbox.MetaTxPort.
func (s *Service) Submit(ctx context.Context, request interface{}) (interface{}, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "encode metatx.submit argument")
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "decode metatx.submit argument")
	}
	return s.Relayer.Submit(ctx, req)
}
