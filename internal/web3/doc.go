// Package web3 houses blockchain connectivity for the agent: chain
// definitions loaded from YAML, the token contract table and the Client
// interface that read-only chain adapters implement to answer gas and
// balance questions.
package web3
