package secure

import (
	"net"

	"github.com/pion/logging"
)

// SecurityConfig carries the device authentication key and per-user
// password hashes that the surrounding server would otherwise have to
// hard-code. When DeviceAuthenticationCode is nil, a 16-byte zero key is
// used, matching the reference implementation's documented default.
type SecurityConfig struct {
	// DeviceAuthenticationCode is the 16-byte CBC-MAC key used to sign
	// SESSION_RES. Zero-filled if nil.
	DeviceAuthenticationCode []byte

	// UserPasswordHashes maps userID to a password hash used to verify
	// SESSION_AUTH. A userID with no entry skips MAC verification (logged
	// as a warning), preserving interoperability with the reference
	// implementation's current behavior.
	UserPasswordHashes map[uint16][]byte
}

// Config configures a Store.
type Config struct {
	Security SecurityConfig

	// LocalAddr is the control endpoint's bound local address, used to
	// derive the serial number from the NIC's hardware address. Six zero
	// bytes are used if this is nil or no matching interface is found.
	LocalAddr net.IP

	// SessionTimeout bounds session dormancy before Sweep closes it.
	// Defaults to 2 minutes.
	SessionTimeout int64 // seconds; 0 means applyDefaults sets 120.

	// LoggerFactory builds the store's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

const defaultSessionTimeoutSeconds = 120

func (c *Config) applyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeoutSeconds
	}
}

func (c Config) deviceAuthKey() []byte {
	if len(c.Security.DeviceAuthenticationCode) == 16 {
		return c.Security.DeviceAuthenticationCode
	}
	return make([]byte, 16)
}
