package secure

import "net"

// DeriveSerialNumber returns the first six bytes of the hardware address
// of the network interface bound to localAddr, or six zero bytes if
// localAddr is unset or no interface owns it.
func DeriveSerialNumber(localAddr net.IP) [6]byte {
	var sno [6]byte
	if localAddr == nil {
		return sno
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return sno
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if !ipNet.IP.Equal(localAddr) {
				continue
			}
			if len(iface.HardwareAddr) >= 6 {
				copy(sno[:], iface.HardwareAddr[:6])
				return sno
			}
			return sno
		}
	}
	return sno
}
