package service

import (
	"papertrade/internal/domain"
)

// InfoResponse describes the tradable universe: configured pairs and
// the assets they imply.
type InfoResponse struct {
	Pairs  []string
	Assets []string
}

// InfoService answers exchange-info queries.
type InfoService struct {
	symbols *domain.SymbolSet
}

// NewInfoService creates a new InfoService.
func NewInfoService(symbols *domain.SymbolSet) *InfoService {
	return &InfoService{symbols: symbols}
}

// Info returns the configured pairs and assets, both sorted.
func (s *InfoService) Info() InfoResponse {
	return InfoResponse{
		Pairs:  s.symbols.List(),
		Assets: s.symbols.Assets(),
	}
}
