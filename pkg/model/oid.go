package model

import (
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

const (
	// OIDSize is the size in bytes of an object id
	OIDSize = 20

	// OIDHexSize is the size of the hexadecimal rendering of an object id
	OIDHexSize = 2 * OIDSize
)

// OID is the digest of an object in the object database
type OID [OIDSize]byte

// ZeroOID is the all-zeroes object id, which never designates an object
var ZeroOID OID

func (oid OID) String() string {
	return hex.EncodeToString(oid[:])
}

// IsZero tells if this is the all-zeroes object id
func (oid OID) IsZero() bool {
	return oid == ZeroOID
}

// MarshalJSON renders the object id as a hex string
func (oid OID) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(oid.String())
}

// ParseOID parses a full-length, lower case hexadecimal object id
func ParseOID(src string) (OID, error) {
	var oid OID
	if len(src) != OIDHexSize {
		return oid, status.ErrMalformed.Wrapf("object id %q: expected %d hex characters, got %d", src, OIDHexSize, len(src))
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return oid, status.ErrMalformed.Wrapf("object id %q: invalid character %q", src, c)
		}
	}
	if _, err := hex.Decode(oid[:], []byte(src)); err != nil {
		return oid, status.ErrMalformed.Wrap(err)
	}
	return oid, nil
}

// MustParseOID parses an object id or panics
func MustParseOID(src string) OID {
	oid, err := ParseOID(src)
	if err != nil {
		panic(err)
	}
	return oid
}

// OIDFromBytes builds an object id from its raw bytes
func OIDFromBytes(buf []byte) (OID, error) {
	var oid OID
	if len(buf) != OIDSize {
		return oid, status.ErrMalformed.Wrapf("object id: expected %d bytes, got %d", OIDSize, len(buf))
	}
	copy(oid[:], buf)
	return oid, nil
}
