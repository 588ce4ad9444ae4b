// Package auth guards the intentd HTTP API with static bearer tokens. Each
// token carries a permission set that routes check before running.
package auth
