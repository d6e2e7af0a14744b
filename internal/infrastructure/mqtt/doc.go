// Package mqtt provides the MQTT client used to publish device state
// and availability to an external broker.
//
// The client wraps paho.mqtt.golang with automatic reconnection, a
// retained Last Will and Testament on the availability topic, and a
// fixed topic tree rooted at "hubsync/". Publishing is optional: when
// the broker is disabled in configuration the rest of the service runs
// without it.
package mqtt
