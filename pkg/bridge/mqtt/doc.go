// Package mqtt mirrors a monitor's database to an MQTT broker.
//
// Every device, signal, link and mapping becomes one retained topic under a
// configurable prefix, so a subscriber joining late sees the current network
// state at once. Removing a record clears its retained message.
//
// Topic layout (prefix "mapper"):
//
//	mapper/status                                  online | offline (will)
//	mapper/device/test.1                           device record
//	mapper/signal/test.1/freq                      signal record
//	mapper/link/testsend.1/testrecv.1              link record
//	mapper/mapping/<id>                            mapping record, id in hex
//
// The bridge is driven by database callbacks, which run inside
// Monitor.Poll. Publishing never waits for the broker.
package mqtt
