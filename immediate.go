package main

import "fmt"

// RegisterImmediates installs the compile-time words. Each handler runs
// at the point of reference inside a definition with direct access to
// compiler state: the type stack, the pending quotation stack, and the
// emission buffer.
func RegisterImmediates(dict *Dictionary) {
	for _, imm := range []struct {
		name    string
		handler func(c *Compiler, src *tokenSource) error
	}{
		{"if", immIf},
		{"times", immTimes},
		{"true", immTrue},
		{"false", immFalse},
		{"dup", immDup},
		{"drop", immDrop},
		{"swap", immSwap},
		{"over", immOver},
		{"rot", immRot},
	} {
		dict.Add(&dictEntry{
			name:        imm.name,
			sig:         mustSignature("->"),
			isImmediate: true,
			handler:     imm.handler,
		})
	}
}

type immediateError struct {
	name string
	mess string
}

func (err immediateError) Error() string {
	return fmt.Sprintf("%s: %s", err.name, err.mess)
}
func (immediateError) category() Category { return CatStack }

// flagType accepts boolean-shaped values: bool, i64, or a not-yet-known
// entry.
func flagType(t typeID) bool {
	switch t {
	case typeBool, typeI64, typeAny, typeUnknown:
		return true
	}
	return false
}

// immTrue and immFalse emit deduplicated DATA literals for the Forth
// truth values.
func immTrue(c *Compiler, _ *tokenSource) error  { return c.compileNumber(forthTrue) }
func immFalse(c *Compiler, _ *tokenSource) error { return c.compileNumber(forthFalse) }

// immIf lowers `flag ( true ) ( false ) if` to a conditional branch with
// both quotations inlined:
//
//	0branch L1  <true body>  branch L2  L1: <false body>  L2:
//
// Both branches compile under the context after dropping the flag and
// must agree on their output shape. Branch offsets count cells and are
// encoded as inline literals.
func immIf(c *Compiler, _ *tokenSource) error {
	if len(c.quots) < 2 {
		return immediateError{"if", "requires two quotations: ( true ) ( false )"}
	}
	falseQ := c.popQuot()
	trueQ := c.popQuot()

	if c.types.depth() < 1 {
		return immediateError{"if", "requires a flag on the stack"}
	}
	flag := c.types[len(c.types)-1]
	if !flagType(flag.t) {
		return typeMismatchError{typeBool, flag.t}
	}
	ctx := c.types[:len(c.types)-1].clone()

	tq, err := c.compileQuot(trueQ, ctx)
	if err != nil {
		return err
	}
	fq, err := c.compileQuot(falseQ, ctx)
	if err != nil {
		return err
	}
	if err := sameShape("if", tq.outputs, fq.outputs); err != nil {
		return err
	}

	c.out.AppendPrimitive(primZBranch)
	c.out.AppendInline(int64(tq.buf.Tags() + 2))
	c.out.Splice(tq.buf)
	c.out.AppendPrimitive(primBranch)
	c.out.AppendInline(int64(fq.buf.Tags()))
	c.out.Splice(fq.buf)

	c.types = tq.outputs
	return nil
}

func sameShape(name string, a, b typeStack) error {
	if len(a) != len(b) {
		return immediateError{name, fmt.Sprintf(
			"branch shapes differ: %d vs %d values", len(a), len(b))}
	}
	for i := range a {
		if a[i].t != b[i].t {
			return typeMismatchError{a[i].t, b[i].t}
		}
	}
	return nil
}

// immTimes dispatches on the number of pending quotations.
//
// One quotation is the counted loop `count ( body ) times`:
//
//	>r  L: r@ 0branch X  r> 1 - >r  <body>  branch L  X: rdrop
//
// The body may read the counter through i0 and must preserve the stack
// shape it was compiled under.
//
// Two quotations is the conditional loop `( cond ) ( body ) times`:
//
//	L: <body> <cond> 0branch L
//
// looping while cond leaves zero.
func immTimes(c *Compiler, _ *tokenSource) error {
	switch {
	case len(c.quots) >= 2:
		return timesCond(c)
	case len(c.quots) == 1:
		return timesCounted(c)
	}
	return immediateError{"times", "requires a quotation"}
}

func timesCounted(c *Compiler) error {
	body := c.popQuot()

	if c.types.depth() < 1 {
		return immediateError{"times", "requires a count on the stack"}
	}
	count := c.types[len(c.types)-1]
	if !flagType(count.t) && count.t != typeU64 {
		return typeMismatchError{typeI64, count.t}
	}
	ctx := c.types[:len(c.types)-1].clone()

	bq, err := c.compileQuot(body, ctx)
	if err != nil {
		return err
	}
	// the body runs a variable number of times; its net effect cannot
	// reach the outer stack
	if err := sameShape("times", ctx, bq.outputs); err != nil {
		return err
	}
	n := bq.buf.Tags()

	c.out.AppendPrimitive(primToR)
	c.out.AppendPrimitive(primRFetch)
	c.out.AppendPrimitive(primZBranch)
	c.out.AppendInline(int64(n + 6))
	c.out.AppendPrimitive(primFromR)
	c.out.AppendInline(1)
	c.out.AppendPrimitive(primSub)
	c.out.AppendPrimitive(primToR)
	c.out.Splice(bq.buf)
	c.out.AppendPrimitive(primBranch)
	c.out.AppendInline(int64(-(n + 9)))
	c.out.AppendPrimitive(primRDrop)

	c.types = ctx
	return nil
}

func timesCond(c *Compiler) error {
	body := c.popQuot()
	cond := c.popQuot()

	ctx := c.types.clone()
	bq, err := c.compileQuot(body, ctx)
	if err != nil {
		return err
	}
	cq, err := c.compileQuot(cond, bq.outputs)
	if err != nil {
		return err
	}
	if len(cq.outputs) != len(bq.outputs)+1 {
		return immediateError{"times", "condition must produce exactly one flag"}
	}
	if err := sameShape("times", bq.outputs, cq.outputs[:len(cq.outputs)-1]); err != nil {
		return err
	}
	if flag := cq.outputs[len(cq.outputs)-1]; !flagType(flag.t) {
		return typeMismatchError{typeBool, flag.t}
	}

	n := bq.buf.Tags() + cq.buf.Tags()
	c.out.Splice(bq.buf)
	c.out.Splice(cq.buf)
	c.out.AppendPrimitive(primZBranch)
	c.out.AppendInline(int64(-(n + 2)))

	c.types = bq.outputs
	return nil
}

// Stack-op immediates rearrange compile-time entries, including their
// slot ids, then emit the runtime primitive; a dup of a heap pointer
// yields two entries sharing one slot.

func immDup(c *Compiler, _ *tokenSource) error {
	if c.types.depth() < 1 {
		return stackDepthError{1, c.types.depth()}
	}
	c.types = append(c.types, c.types[len(c.types)-1])
	c.out.AppendPrimitive(primDup)
	return nil
}

// immDrop frees an owned heap slot when dropping its last stack
// reference, so a plain drop can never leak an allocation.
func immDrop(c *Compiler, _ *tokenSource) error {
	if c.types.depth() < 1 {
		return stackDepthError{1, c.types.depth()}
	}
	ent := c.types[len(c.types)-1]
	c.types = c.types[:len(c.types)-1]

	if ent.slot != noSlot && c.slots[ent.slot] == slotLive && !c.slotOnStack(ent.slot) {
		c.slots[ent.slot] = slotFreed
		c.out.AppendPrimitive(primFree)
		return nil
	}
	c.out.AppendPrimitive(primDrop)
	return nil
}

func (c *Compiler) slotOnStack(slot int) bool {
	for _, ent := range c.types {
		if ent.slot == slot {
			return true
		}
	}
	return false
}

func immSwap(c *Compiler, _ *tokenSource) error {
	n := c.types.depth()
	if n < 2 {
		return stackDepthError{2, n}
	}
	c.types[n-2], c.types[n-1] = c.types[n-1], c.types[n-2]
	c.out.AppendPrimitive(primSwap)
	return nil
}

func immOver(c *Compiler, _ *tokenSource) error {
	n := c.types.depth()
	if n < 2 {
		return stackDepthError{2, n}
	}
	c.types = append(c.types, c.types[n-2])
	c.out.AppendPrimitive(primOver)
	return nil
}

func immRot(c *Compiler, _ *tokenSource) error {
	n := c.types.depth()
	if n < 3 {
		return stackDepthError{3, n}
	}
	a, b, d := c.types[n-3], c.types[n-2], c.types[n-1]
	c.types[n-3], c.types[n-2], c.types[n-1] = b, d, a
	c.out.AppendPrimitive(primRot)
	return nil
}
