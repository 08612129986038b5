// Package mqtt connects the node to the broker that carries event grains.
//
// Grains of an event source are published on
// "x-nmos/events/1.0/{sourceId}/{eventType}"; Topics builds those strings
// and ParseEventTopic reverses them. The client reconnects with
// exponential backoff, restores subscriptions, and publishes retained
// presence with a will message so peers can detect a crashed node.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleGrain(topic, payload)
//	    })
package mqtt
