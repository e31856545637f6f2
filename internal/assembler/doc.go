// Package assembler builds the per-request prompt context: a system
// directive, retrieved schema knowledge, the leading playbook rules, fixed
// generation constraints and the user question, each with an estimated
// token cost.
package assembler
