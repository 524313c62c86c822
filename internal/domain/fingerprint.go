package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ComputeFingerprint canonicalizes a rule set to a fixed key order and
// numeric representation, then hashes it. Two structurally identical rule
// sets — regardless of the order their rules were authored in — must
// produce identical fingerprints (§3), and the algorithm must stay stable
// across versions (§6 "compatibility requirement").
//
// Canonicalization:
//  1. Entry and exit rules are each sorted by their own canonical string,
//     not by ID — ID is mutation bookkeeping, not part of rule identity.
//  2. Parameters are sorted by key.
//  3. Floats are formatted with a fixed precision so the same value never
//     serializes two different ways.
func ComputeFingerprint(rs RuleSet) Fingerprint {
	var b strings.Builder
	writeRules(&b, "entry", rs.Entry)
	writeRules(&b, "exit", rs.Exit)
	writeParameters(&b, rs.Parameters)

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func writeRules(b *strings.Builder, section string, rules []Rule) {
	canon := make([]string, len(rules))
	for i, r := range rules {
		canon[i] = canonicalPredicate(r.Predicate)
	}
	sort.Strings(canon)

	b.WriteString(section)
	b.WriteByte('[')
	for i, c := range canon {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c)
	}
	b.WriteString("]|")
}

func canonicalPredicate(p Predicate) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s:%d",
		p.Indicator, p.Window, p.Comparator, formatFloat(p.Threshold),
		p.RefIndicator, p.RefWindow)
}

func writeParameters(b *strings.Builder, params map[string]float64) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("params[")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatFloat(params[k]))
	}
	b.WriteByte(']')
}

// formatFloat fixes precision so 0.1 and 0.10000000001 (a float drift that
// should not exist in a mutated-but-unchanged parameter) collapse to the
// same canonical string.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 8, 64)
}
