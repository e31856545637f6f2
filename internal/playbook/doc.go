// Package playbook holds the learned-rule store: the Playbook aggregate, the
// section registry (name, id prefix, content rules) and a file-backed Store.
//
// Every mutation is a read-modify-write of the whole document through
// Store.Update, which is the serialization point for concurrent curation.
package playbook
