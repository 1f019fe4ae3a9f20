// Package template evaluates the MQTT discovery payload's embedded
// expression language (arithmetic, backtick string interpolation, switch
// expressions) by transpiling each expression leaf to Lua and running it on
// an embedded Lua VM.
package template

import "github.com/srg/blecollector/internal/fqcn"

// Context is the set of values a template expression may reference, bound
// fresh for every sample.
type Context struct {
	Adapter            string
	Peripheral         string
	PeripheralName     string
	ServiceName        string
	CharacteristicName string
	FQCN               fqcn.FQCN
	// StateTopic is bound after the root "state_topic" leaf is evaluated,
	// so sibling leaves can reference it.
	StateTopic string
}

// cleaned returns Context's flat string fields run through fqcn.Clean, for
// the `clean_*` template variables.
func (c Context) cleaned() (adapter, peripheral, peripheralName, serviceName, characteristicName string) {
	return fqcn.Clean(c.Adapter), fqcn.Clean(c.Peripheral), fqcn.Clean(c.PeripheralName),
		fqcn.Clean(c.ServiceName), fqcn.Clean(c.CharacteristicName)
}
