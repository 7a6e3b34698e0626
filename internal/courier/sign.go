package courier

import (
	"crypto/md5" // #nosec G401 - the upstream API mandates MD5 request signatures
	"encoding/hex"
	"strings"
)

// Sign computes the request signature the upstream API expects:
// the uppercase hex MD5 digest of param + key + customer.
func Sign(param, key, customer string) string {
	sum := md5.Sum([]byte(param + key + customer)) // #nosec G401
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
