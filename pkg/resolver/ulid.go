package resolver

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID identifies one resolution run. Run IDs are lexically sortable by
// start time, which keeps event logs naturally ordered.
type ULID ulid.ULID

// NewULID generates a new run ID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a run ID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid run id: %w", err)
	}
	return ULID(id), nil
}

// String returns the canonical 26-character form.
func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether the ID is unset.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// MarshalJSON encodes the ID as its canonical string.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON decodes the ID from its canonical string.
func (u *ULID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid run id JSON: %s", s)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}
