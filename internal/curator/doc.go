// Package curator is the learning engine. It asks the completion service for
// delta operations (ADD, UPDATE, DELETE), either straight from a failed
// execution or from reflector insights, and applies them to the playbook in
// one load-mutate-save batch.
//
// ADD operations are normalized per section and checked against recent rules
// of the same section. A semantically similar rule is reinforced or merged
// instead of a new one being appended. The check fails open.
package curator
