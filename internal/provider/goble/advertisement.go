package goble

import "github.com/go-ble/ble"

// advertisement adapts ble.Advertisement to provider.Advertisement,
// trimming the wider go-ble surface (service data, overflow/solicited
// service lists, tx power) down to what the Adapter Supervisor's match
// policy and dedup window actually key on.
type advertisement struct {
	adv ble.Advertisement
}

func newAdvertisement(adv ble.Advertisement) *advertisement {
	return &advertisement{adv: adv}
}

func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) Addr() string      { return a.adv.Addr().String() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool { return a.adv.Connectable() }

func (a *advertisement) ManufacturerData() []byte {
	return a.adv.ManufacturerData()
}

func (a *advertisement) Services() []string {
	svcs := a.adv.Services()
	out := make([]string, len(svcs))
	for i, s := range svcs {
		out[i] = s.String()
	}
	return out
}
