package importer

import (
	"io"

	"github.com/flowsentry/flowsentry/internal/record"
)

type Importer interface {
	Parse(r io.Reader) ([]record.CreateParams, error)
}
