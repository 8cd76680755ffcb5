// Package kafka holds the shared Kafka types (Message, Header, Handler,
// StartOffset), the Broker interface that the push consumer polls through,
// and KgoBroker, its franz-go implementation.
//
// The package has no consumer of its own; the push consumer lives in package
// pushconsumer. The producer lives in the kafka/producer subpackage, and its
// Produce method takes a completion callback:
//
//	p, err := producer.New(producer.WithConfig(cfg.Producer))
//	msg := kafka.Message{Key: []byte("key"), Value: []byte("value")}
//	p.Produce(ctx, msg, func(err error) { /* delivery result */ })
package kafka
