// Package llm wraps the completion service used by the generator, reflector
// and curator.
//
// Client speaks to any OpenAI-compatible endpoint through langchaingo. Every
// call is rate limited and bounded by a timeout; callers own the decision of
// what a failed or unparsable reply degrades to. DecodeJSON extracts a JSON
// object from a reply that may be wrapped in a fenced code block.
package llm
