package main

import (
	"fmt"

	"github.com/jcorbin/march/internal/blob"
)

// compilerState is the per-definition state saved around a nested
// specialization compile.
type compilerState struct {
	curWord    string
	types      typeStack
	out        *blob.Buffer
	quots      []*quotation
	capture    []Token
	capDepth   int
	arrayMarks []int
	slots      []slotState
}

func (c *Compiler) saveState() compilerState {
	return compilerState{
		curWord:    c.curWord,
		types:      c.types,
		out:        c.out,
		quots:      c.quots,
		capture:    c.capture,
		capDepth:   c.capDepth,
		arrayMarks: c.arrayMarks,
		slots:      c.slots,
	}
}

func (c *Compiler) restoreState(s compilerState) {
	c.curWord = s.curWord
	c.types = s.types
	c.out = s.out
	c.quots = s.quots
	c.capture = s.capture
	c.capDepth = s.capDepth
	c.arrayMarks = s.arrayMarks
	c.slots = s.slots
}

// monomorphize specializes a token-only word against the concrete types
// on top of the stack, memoized by (name, input-type vector). The
// retained-token form is a quotation instantiated once per distinct type
// context.
func (c *Compiler) monomorphize(e *dictEntry) error {
	n := len(e.sig.Inputs)
	if c.types.depth() < n {
		return stackDepthError{n, c.types.depth()}
	}

	inputs := make([]typeID, n)
	for i, ent := range c.types[len(c.types)-n:] {
		if !ent.t.isConcrete() {
			return specializeError{e.name, fmt.Sprintf(
				"input %d is %v, not a concrete type", i, ent.t)}
		}
		inputs[i] = ent.t
	}

	key := e.name + "(" + typeListString(inputs) + ")"
	spec, hit := c.spec[key]
	if !hit {
		var err error
		spec, err = c.specialize(e, key, inputs)
		if err != nil {
			return err
		}
	}

	c.consumeSlots(n, slotEscaped)
	c.out.AppendRef(blob.Word, spec.cid)
	c.types = c.types[:len(c.types)-n]
	for _, t := range spec.outputs {
		c.types = append(c.types, stackEntry{t, noSlot})
	}
	c.ownOutputs(len(spec.outputs))
	return nil
}

// specialize replays a retained token list under fresh buffers and a
// type stack seeded with the concrete inputs, persists the resulting
// WORD blob, and records the specialization.
func (c *Compiler) specialize(e *dictEntry, key string, inputs []typeID) (specEntry, error) {
	if c.specBusy[key] {
		return specEntry{}, specializeError{e.name, "recursive specialization"}
	}
	if len(c.spec) >= maxSpecs {
		return specEntry{}, limitError{"specialization cache", maxSpecs}
	}
	c.specBusy[key] = true
	defer delete(c.specBusy, key)

	save := c.saveState()
	c.resetDefinition(e.name)
	for _, t := range inputs {
		c.types = append(c.types, stackEntry{t, c.paramSlot(t)})
	}

	err := c.compileBody(replaySource(e.tokens), false)
	var (
		cid     blob.CID
		outSig  Signature
		outputs []typeID
	)
	if err == nil {
		declared := declaredOutputsFor(e.sig, inputs)
		cid, outSig, err = c.finishDefinition(declared)
		outputs = outSig.Outputs
	}
	c.restoreState(save)
	if err != nil {
		return specEntry{}, err
	}

	spec := specEntry{cid: cid, outputs: outputs}
	c.spec[key] = spec
	if e.cid == nil {
		// attach the lazy cid: the only post-insertion mutation a
		// dictionary entry ever sees
		e.cid = &cid
	}
	if c.logf != nil {
		c.logf("specialized %s as %s", key, cid)
	}
	return spec, nil
}

// declaredOutputsFor resolves a polymorphic signature's declared outputs
// under the concrete inputs, so the specialization is checked against
// what the declaration promises. Outputs mentioning unbound variables
// stay unresolved and are only length-checked.
func declaredOutputsFor(sig Signature, inputs []typeID) *Signature {
	var b bindings
	for i, t := range sig.Inputs {
		if t.isVar() && i < len(inputs) {
			b.bind(t, inputs[i])
		}
	}
	out := Signature{Inputs: inputs}
	for _, t := range sig.Outputs {
		out.Outputs = append(out.Outputs, b.resolve(t))
	}
	return &out
}

type specializeError struct {
	name string
	mess string
}

func (err specializeError) Error() string {
	return fmt.Sprintf("cannot specialize %s: %s", err.name, err.mess)
}
func (specializeError) category() Category { return CatType }
