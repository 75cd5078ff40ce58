// Package mqtt connects gridhost to an MQTT broker.
//
// The broker is optional. When enabled it carries two flows:
//
//	{prefix}/event/{name}   external producers publish here; payloads are
//	                        relayed to websocket listeners as event {name}
//	{prefix}/fanout/{name}  every broadcast event is mirrored here
//
// A retained status message on {prefix}/system/status reports online, and
// the broker publishes offline through the LWT if gridhost disappears.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllEvents(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        name, _ := client.Topics().EventName(topic)
//	        return broadcaster.Publish(name, string(payload))
//	    })
//
// Use TLS (broker.tls) for anything beyond a local broker.
package mqtt
