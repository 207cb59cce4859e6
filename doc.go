// Package afkak implements the coordination core of an asynchronous
// Kafka producer: submission intake, partition resolution, batch
// aggregation, dispatch with bounded retries, and demultiplexing of
// broker responses back to per-caller completion handles.
//
// The broker transport and topic-metadata client are treated as
// external collaborators; this package consumes them through the
// Client interface defined in client.go. codec.go carries the
// message-set encoder the dispatcher uses and the frame helpers the
// reference client uses.
package afkak
