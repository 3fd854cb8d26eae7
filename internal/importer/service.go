package importer

import (
	"io"

	"github.com/flowsentry/flowsentry/internal/importer/statement"
	"github.com/flowsentry/flowsentry/internal/record"
)

// Service parses uploaded statement files into record params. The export
// format is auto-detected, so callers hand over the raw file without
// naming the bank it came from.
type Service struct {
	statements Importer
}

func NewService() *Service {
	return &Service{
		statements: statement.NewParser(),
	}
}

func (s *Service) Parse(r io.Reader) ([]record.CreateParams, error) {
	return s.statements.Parse(r)
}
