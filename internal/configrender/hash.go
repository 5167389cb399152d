package configrender

import (
	"crypto/sha256"
	"encoding/hex"
)

// InstanceID hashes a rendered runtimeConfig into the hex digest used as a
// WorkloadInstanceName's id. Two workloads whose rendered runtimeConfig is
// byte-identical always hash to the same id.
func InstanceID(renderedRuntimeConfig string) string {
	sum := sha256.Sum256([]byte(renderedRuntimeConfig))
	return hex.EncodeToString(sum[:])[:16]
}
