// Package llm defines the intent resolver contract: a natural-language
// message goes in, a reply and tool-call intents come out. Provider adapters
// live in subpackages and share the tool definitions declared here.
package llm
