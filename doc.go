/*
Package gnoracle holds what the oracle packages share: the Ed25519 suite
used for operator keys and the error helpers.

An oracle operator watches the guild ledger for verification requests that
are delegated to it. Registration requests carry identities together with a
signature over the requester's verification message; they are checked by
package identity. Role requirement checks combine balance lookups on EVM
chains (package evm) and allowlist membership proofs (package allowlist)
through a boolean logic expression (package requirement). Package oracle
runs the block subscription, compiles the answers and submits them back to
the ledger (package ledger) in signed batches.

The oracle/gnoracle directory contains the operator binary.
*/
package gnoracle
