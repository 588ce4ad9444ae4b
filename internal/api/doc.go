// Package api exposes the REST surface of intentd: compiling and planning
// intents, submitting prepared transactions as operations and managing their
// lifecycle, plus health and Prometheus endpoints.
package api
