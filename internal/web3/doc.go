// Package web3 houses blockchain connectivity utilities: chain endpoint
// definitions, the chain client contract used by the execution layer, and
// the concrete EVM client, keyed wallet and per-chain provider registry in
// its subpackages.
package web3
