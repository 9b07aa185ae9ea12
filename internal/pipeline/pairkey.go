package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const pairKeyLength = 16

// Fingerprint is the hex sha256 of raw intent text. Cached normalization and
// embeddings are valid only while it matches.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PairKey identifies an unordered pairing of two owners and two intents.
// Swapping the sides yields the same key.
func PairKey(ownerA, ownerB, intentA, intentB string) string {
	owners := []string{ownerA, ownerB}
	intents := []string{intentA, intentB}
	sort.Strings(owners)
	sort.Strings(intents)

	material := "intent|" + strings.Join(owners, "|") + "|" + strings.Join(intents, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:pairKeyLength]
}
