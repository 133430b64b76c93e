package grove

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestLength is the byte length of all digests produced by the tree.
const DigestLength = blake2b.Size256

// Digest commits to the contents of a (sub)tree or value.
type Digest [DigestLength]byte

// EmptyDigest is the root digest of an empty subtree.
var EmptyDigest = Digest{}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) IsEmpty() bool {
	return d == EmptyDigest
}

const (
	hashDomainValue = 0x00
	hashDomainKV    = 0x01
	hashDomainNode  = 0x02
)

// hashValue commits to a raw element value.
func hashValue(value []byte) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{hashDomainValue})
	h.Write(value)

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}

// hashKV commits to a key together with its value digest. Proofs may reveal
// the key and the value digest without revealing the value itself.
func hashKV(key []byte, valueHash Digest) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{hashDomainKV})
	h.Write([]byte{byte(len(key) >> 8), byte(len(key))})
	h.Write(key)
	h.Write(valueHash[:])

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}

// hashNode commits to a node and both of its child subtrees.
func hashNode(kvHash, leftHash, rightHash Digest) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{hashDomainNode})
	h.Write(kvHash[:])
	h.Write(leftHash[:])
	h.Write(rightHash[:])

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}
