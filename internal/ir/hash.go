package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainGraph prefixes graph fingerprints. The version suffix allows the
// dump format to change without colliding with old fingerprints.
const DomainGraph = "nodejit/graph/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator
// keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a content hash of the reachable graph. Two graphs with
// the same nodes, IDs, parameters and types share a fingerprint.
func Fingerprint(g *Graph) (string, error) {
	canonical, err := MarshalCanonical(DumpObject(g))
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// MustFingerprint panics if the graph cannot be fingerprinted.
func MustFingerprint(g *Graph) string {
	fp, err := Fingerprint(g)
	if err != nil {
		panic(err)
	}
	return fp
}
