package model

// Top-level subtree keys of the state tree. Every piece of state hangs off
// one of these so the single root digest commits to all of them.
var (
	RootKeyContracts   = []byte{1}
	RootKeyIdentities  = []byte{2}
	RootKeyPools       = []byte{3}
	RootKeyWithdrawals = []byte{4}
)
