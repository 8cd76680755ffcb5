// Package deadletter persists an audit trail of messages that exhausted
// their retry budget and were published to a consumer group's dead-letter
// topic, backed by Postgres via the pgrepo package.
package deadletter
