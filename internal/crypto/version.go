// Package crypto implements the client login cipher: key derivation from the
// client version and the seeded keystream that encrypts the login exchange.
package crypto

import (
	"fmt"
	"strconv"
	"strings"
)

// ClientVersion identifies a client build as major.minor.revision.prototype.
type ClientVersion struct {
	Major     uint32
	Minor     uint32
	Revision  uint32
	Prototype uint32
}

// ParseClientVersion parses "7.0.15.1". The prototype part may be omitted.
func ParseClientVersion(s string) (ClientVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 3 || len(parts) > 4 {
		return ClientVersion{}, fmt.Errorf("invalid client version %q: expected 3 or 4 parts", s)
	}

	var nums [4]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return ClientVersion{}, fmt.Errorf("invalid client version %q: %w", s, err)
		}
		nums[i] = uint32(n)
	}

	return ClientVersion{
		Major:     nums[0],
		Minor:     nums[1],
		Revision:  nums[2],
		Prototype: nums[3],
	}, nil
}

// String returns the dotted form.
func (v ClientVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Prototype)
}
