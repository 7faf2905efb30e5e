package main

import (
	"fmt"
	"strings"
)

// typeID identifies a stack value type at compile time. Concrete types,
// the top type any, and 26 single-letter type variables.
type typeID int

const (
	typeUnknown typeID = iota
	typeI64
	typeU64
	typeF64
	typePtr
	typeBool
	typeStr
	typeStrMut
	typeArray
	typeArrayMut
	typeAny
	typeVarA // a..z follow contiguously
)

const typeVarZ = typeVarA + 25

var typeNames = map[string]typeID{
	"i64":       typeI64,
	"u64":       typeU64,
	"f64":       typeF64,
	"ptr":       typePtr,
	"bool":      typeBool,
	"str":       typeStr,
	"str_mut":   typeStrMut,
	"array":     typeArray,
	"array_mut": typeArrayMut,
	"any":       typeAny,
}

func (t typeID) String() string {
	for name, id := range typeNames {
		if id == t {
			return name
		}
	}
	if t.isVar() {
		return string(rune('a' + (t - typeVarA)))
	}
	return "?"
}

func (t typeID) isVar() bool      { return t >= typeVarA && t <= typeVarZ }
func (t typeID) isConcrete() bool { return t > typeUnknown && t < typeAny }

// parseTypeName resolves one signature token; single letters are
// variables.
func parseTypeName(s string) (typeID, error) {
	if t, ok := typeNames[s]; ok {
		return t, nil
	}
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'z' {
		return typeVarA + typeID(s[0]-'a'), nil
	}
	return typeUnknown, fmt.Errorf("unknown type name %q", s)
}

// Signature is a word's declared or inferred stack effect.
type Signature struct {
	Inputs  []typeID
	Outputs []typeID
}

// ParseSignature parses whitespace-separated type tokens around a "->"
// (or "→") arrow, e.g. "a b -> b a".
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	seenArrow := false
	for _, field := range strings.Fields(s) {
		if field == "->" || field == "→" {
			if seenArrow {
				return sig, fmt.Errorf("signature %q: duplicate arrow", s)
			}
			seenArrow = true
			continue
		}
		t, err := parseTypeName(field)
		if err != nil {
			return sig, fmt.Errorf("signature %q: %w", s, err)
		}
		if seenArrow {
			sig.Outputs = append(sig.Outputs, t)
		} else {
			sig.Inputs = append(sig.Inputs, t)
		}
	}
	if !seenArrow {
		return sig, fmt.Errorf("signature %q: missing arrow", s)
	}
	return sig, nil
}

func mustSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}
	return sig
}

// InputString renders the input types for persistence.
func (sig Signature) InputString() string { return typeListString(sig.Inputs) }

// OutputString renders the output types for persistence.
func (sig Signature) OutputString() string { return typeListString(sig.Outputs) }

func (sig Signature) String() string {
	return strings.TrimSpace(sig.InputString() + " -> " + sig.OutputString())
}

func typeListString(types []typeID) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, " ")
}

// polymorphic reports whether any input is a variable or any.
func (sig Signature) polymorphic() bool {
	for _, t := range sig.Inputs {
		if t == typeAny || t.isVar() {
			return true
		}
	}
	return false
}

// priority scores signature specificity for overload tie-breaking:
// concrete inputs count 100, polymorphic ones 10.
func (sig Signature) priority() int {
	p := 0
	for _, t := range sig.Inputs {
		if t.isConcrete() {
			p += 100
		} else {
			p += 10
		}
	}
	return p
}

// noSlot marks a stack entry that does not own a heap allocation.
const noSlot = -1

// stackEntry pairs a compile-time type with the heap slot it refers to,
// if any. Duplicated entries share the slot.
type stackEntry struct {
	t    typeID
	slot int
}

// typeStack is the compile-time mirror of the runtime operand stack.
type typeStack []stackEntry

func (ts typeStack) depth() int { return len(ts) }

func (ts typeStack) types() []typeID {
	types := make([]typeID, len(ts))
	for i, e := range ts {
		types[i] = e.t
	}
	return types
}

func (ts typeStack) clone() typeStack {
	out := make(typeStack, len(ts))
	copy(out, ts)
	return out
}

// bindings maps the 26 type variables to their unified concrete types.
type bindings [26]typeID

func (b *bindings) resolve(t typeID) typeID {
	if t.isVar() {
		return b[t-typeVarA]
	}
	return t
}

func (b *bindings) bind(v, t typeID) bool {
	i := v - typeVarA
	if b[i] == typeUnknown {
		b[i] = t
		return true
	}
	return b[i] == t || t == typeUnknown || t == typeAny
}

// applySignature unifies a signature against the top of the type stack,
// popping inputs and pushing outputs. Unification binds each variable to
// the first concrete type it sees, left to right over the inputs;
// later occurrences must agree. Output variables resolve to their
// bindings; an unbound output variable becomes unknown, which only
// errors later at a specialization site.
//
// Entries popped for concrete or any inputs lose any slot association;
// a variable output that resolves to the same variable as a popped input
// keeps that input's slot (dup-shaped signatures preserve ownership).
func applySignature(ts typeStack, sig Signature) (typeStack, error) {
	n := len(sig.Inputs)
	if ts.depth() < n {
		return ts, stackDepthError{n, ts.depth()}
	}

	var b bindings
	popped := ts[len(ts)-n:]
	varSlots := [26]int{}
	for i := range varSlots {
		varSlots[i] = noSlot
	}

	for i := 0; i < n; i++ {
		want, got := sig.Inputs[i], popped[i]
		switch {
		case want == typeAny:
		case want.isVar():
			if !b.bind(want, got.t) {
				return ts, typeMismatchError{b.resolve(want), got.t}
			}
			varSlots[want-typeVarA] = got.slot
		case got.t == typeUnknown || got.t == typeAny:
		case got.t != want:
			return ts, typeMismatchError{want, got.t}
		}
	}

	out := ts[:len(ts)-n]
	for _, t := range sig.Outputs {
		slot := noSlot
		if t.isVar() {
			slot = varSlots[t-typeVarA]
		}
		out = append(out, stackEntry{b.resolve(t), slot})
	}
	return out, nil
}

// matchScore scores a candidate signature against the stack top for
// overload resolution: exact concrete match 100 per input, polymorphic 10,
// unknown stack entry 50; any mismatch disqualifies.
func matchScore(sig Signature, ts typeStack) int {
	n := len(sig.Inputs)
	if ts.depth() < n {
		return -1
	}
	score := 0
	top := ts[len(ts)-n:]
	for i := 0; i < n; i++ {
		want, got := sig.Inputs[i], top[i].t
		switch {
		case want == typeAny || want.isVar():
			score += 10
		case got == want:
			score += 100
		case got == typeUnknown || got == typeAny:
			score += 50
		default:
			return -1
		}
	}
	return score
}
