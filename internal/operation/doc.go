// Package operation keeps the history of submitted prepared transactions and
// executes them asynchronously. A Service validates and stores submissions
// and publishes their ids on a queue; a Processor consumes the queue, drives
// an execution engine for the operation's chain and persists progress after
// every state change.
package operation
