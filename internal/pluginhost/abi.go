package pluginhost

import (
	"encoding/hex"
	"runtime"

	"golang.org/x/crypto/blake2b"
)

// Descriptor is what a plugin's Describe callback returns.
type Descriptor struct {
	Name         string
	Version      string
	Dependencies []string
}

// ABI is the contract a loaded plugin image must satisfy: a fixed set of
// exported symbols the host can look up by name.
type ABI interface {
	AbiTag() string
	Create() (any, error)
	Describe(handle any) (Descriptor, error)
	PreInit(handle any, host HostCallbacks) error
	Init(handle any, host HostCallbacks) error
	Shutdown(handle any) error
	Destroy(handle any) error
}

// ComputeHostAbiTag derives the host's ABI tag from the running toolchain's
// version and architecture identity, hashed with blake2b so the tag is a
// short fixed-width string rather than a raw version string a plugin author
// might be tempted to string-match loosely.
func ComputeHostAbiTag() string {
	material := runtime.Version() + "/" + runtime.GOOS + "/" + runtime.GOARCH
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:16])
}
