package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogWriter opens a UDP GELF writer to addr (host:port).
func NewGraylogWriter(addr, facility string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("graylog %s: %w", addr, err)
	}
	w.Facility = facility
	return w, nil
}
