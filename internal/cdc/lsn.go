package cdc

import (
	"cmp"
	"fmt"

	"github.com/jackc/pglogrepl"
)

// LSN is a PostgreSQL log sequence number. It is the Postgres instantiation
// of the Position constraint used to bound partition reads.
type LSN uint64

// ParseLSN parses an LSN from its textual X/Y form.
func ParseLSN(s string) (LSN, error) {
	lsn, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return 0, fmt.Errorf("parse lsn %q: %w", s, err)
	}
	return LSN(lsn), nil
}

// Compare returns -1 when l is before other, 0 when equal, +1 when past it.
func (l LSN) Compare(other LSN) int {
	return cmp.Compare(uint64(l), uint64(other))
}

// String returns the textual X/Y form of the LSN.
func (l LSN) String() string {
	return pglogrepl.LSN(l).String()
}
