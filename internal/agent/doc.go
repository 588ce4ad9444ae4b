// Package agent turns chat messages into prepared transactions. It asks the
// intent resolver for tool-call intents, compiles each of them against the
// registry and reports per-intent failures next to the successful plans.
package agent
