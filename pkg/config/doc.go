// Package config loads mapperctl configuration.
//
// Configuration comes from an optional YAML file, then MAPPER_* environment
// variables, then command-line flags (applied by the caller). The result
// converts into the library configs of the mapper, mqtt bridge and
// discovery packages.
//
// Example file:
//
//	bus:
//	  group: 224.0.1.3
//	  port: 7570
//	  interface: eth0
//	device:
//	  name: synth
//	  port: 9000
//	  inputs:
//	    - {name: /freq, type: i, unit: Hz, min: 20, max: 20000}
//	  outputs:
//	    - {name: /env, type: f, length: 2}
//	mqtt:
//	  broker: tcp://localhost:1883
//	metrics:
//	  addr: :9100
//	logging:
//	  level: info
package config
