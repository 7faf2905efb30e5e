package main

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jcorbin/march/internal/blob"
	"github.com/jcorbin/march/internal/cells"
)

// Compilation limits.
const (
	maxQuotDepth  = 16
	maxArrayDepth = 16
	maxSpecs      = 1024
	maxSlots      = 256
)

type slotState int

const (
	slotLive slotState = iota
	slotFreed
	slotEscaped
)

// quotation is a deferred code chunk. It starts life as captured raw
// tokens (a literal quotation) and transitions to typed form when an
// immediate word compiles it under a concrete type context or when it is
// materialized as a standalone blob.
type quotation struct {
	open   Token   // opening '(' position
	tokens []Token // literal form
	inputs typeStack
}

// typedQuot is a quotation compiled under a type context.
type typedQuot struct {
	buf     *blob.Buffer
	outputs typeStack
}

// Compiler is the one-pass compiler: it walks a token stream, mirrors
// the runtime stack as a stack of (type, slot) pairs, and emits a
// content-addressed tag stream per definition.
type Compiler struct {
	logf func(mess string, args ...interface{})

	dict  *Dictionary
	store *blob.Store

	// per-definition state
	curWord    string
	types      typeStack
	out        *blob.Buffer
	quots      []*quotation
	capture    []Token
	capDepth   int
	capInputs  typeStack
	capOpen    Token
	arrayMarks []int
	slots      []slotState

	pendingSig *Signature // from a top-level $ declaration
	badSig     *badSignature

	spec       map[string]specEntry
	specBusy   map[string]bool
	lastTok    Token
	sourceName string
}

type specEntry struct {
	cid     blob.CID
	outputs []typeID
}

// NewCompiler returns a compiler over the given dictionary and store.
func NewCompiler(dict *Dictionary, store *blob.Store) *Compiler {
	return &Compiler{
		dict:     dict,
		store:    store,
		out:      &blob.Buffer{},
		spec:     make(map[string]specEntry),
		specBusy: make(map[string]bool),
	}
}

// fail wraps an error with the current token position and word under
// definition. Errors are fatal for the compilation unit; the compiler's
// pending state is not rolled back and the instance should be discarded.
func (c *Compiler) fail(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(compileError); ok {
		return err
	}
	cat := Categorize(err)
	if cat == "" {
		cat = CatParse
	}
	return compileError{
		cat:  cat,
		name: c.sourceName,
		line: c.lastTok.Line,
		col:  c.lastTok.Col,
		word: c.curWord,
		err:  err,
	}
}

// CompileReader compiles a whole source: top-level items are `$ sig ;`
// type declarations and `: name ... ;` definitions.
func (c *Compiler) CompileReader(r io.Reader, name string) error {
	c.sourceName = name
	src := sourceOf(NewTokenizer(r, name))
	for {
		tok, err := src.next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return c.fail(err)
		}
		c.lastTok = tok

		switch tok.Kind {
		case TokenColon:
			if err := c.compileDefinition(src); err != nil {
				return c.fail(err)
			}
		case TokenDollar:
			if err := c.compileTypeDecl(src); err != nil {
				return c.fail(err)
			}
		default:
			return c.fail(parseError(fmt.Sprintf(
				"top-level expressions not supported: %v", tok)))
		}
	}
}

// compileTypeDecl parses `$ type_sig ;`, recording a pending signature
// that attaches to the next definition.
func (c *Compiler) compileTypeDecl(src *tokenSource) error {
	var text string
	for {
		tok, err := src.next()
		if err != nil {
			return parseError("unexpected eof in type declaration")
		}
		c.lastTok = tok
		if tok.Kind == TokenSemicolon {
			break
		}
		if tok.Kind != TokenWord {
			return parseError(fmt.Sprintf("unexpected token in type declaration: %v", tok))
		}
		text += tok.Text + " "
	}
	sig, err := ParseSignature(text)
	if err != nil {
		return typeSigError{err}
	}
	c.pendingSig = &sig
	return nil
}

type typeSigError struct{ err error }

func (err typeSigError) Error() string  { return err.err.Error() }
func (err typeSigError) Unwrap() error  { return err.err }
func (typeSigError) category() Category { return CatType }

// compileDefinition handles `: name [sig ;] body ;`.
func (c *Compiler) compileDefinition(src *tokenSource) error {
	nameTok, err := src.next()
	if err != nil {
		return parseError("expected word name after ':'")
	}
	c.lastTok = nameTok
	if nameTok.Kind != TokenWord {
		return parseError(fmt.Sprintf("expected word name, got %v", nameTok))
	}
	name := nameTok.Text

	sig := c.takeSignature(src)

	if sig != nil && c.badSig == nil && sig.polymorphic() {
		return c.defineLazy(name, *sig, src)
	}
	return c.defineEager(name, sig, src)
}

// takeSignature returns a pending `$` declaration if there is one;
// otherwise it consumes an inline `sig ;` after the word name if one is
// present. Lookahead commits
// only once an arrow is seen; otherwise the scanned tokens are body
// tokens and are pushed back.
func (c *Compiler) takeSignature(src *tokenSource) *Signature {
	if c.pendingSig != nil {
		sig := c.pendingSig
		c.pendingSig = nil
		return sig
	}

	var ahead []Token
	for {
		tok, err := src.next()
		if err != nil {
			src.push(ahead...)
			return nil
		}
		if tok.Kind == TokenWord {
			if tok.Text == "->" || tok.Text == "→" {
				ahead = append(ahead, tok)
				return c.finishSignature(ahead, src)
			}
			if _, err := parseTypeName(tok.Text); err == nil {
				ahead = append(ahead, tok)
				continue
			}
		}
		src.push(append(ahead, tok)...)
		return nil
	}
}

func (c *Compiler) finishSignature(ahead []Token, src *tokenSource) *Signature {
	text := ""
	for _, tok := range ahead {
		text += tok.Text + " "
	}
	for {
		tok, err := src.next()
		if err != nil || tok.Kind == TokenSemicolon {
			break
		}
		text += tok.Text + " "
	}
	sig, err := ParseSignature(text)
	if err != nil {
		// declared but malformed; surface at definition level
		c.badSig = &badSignature{text: text, err: err}
		return &sig
	}
	return &sig
}

// badSignature defers a malformed-signature error to the definition
// compile, where position context is attached.
type badSignature struct {
	text string
	err  error
}

// defineLazy retains the body tokens for per-call-site monomorphization.
func (c *Compiler) defineLazy(name string, sig Signature, src *tokenSource) error {
	var body []Token
	depth := 0
	for {
		tok, err := src.next()
		if err != nil {
			return parseError(fmt.Sprintf("unexpected eof in definition of %s", name))
		}
		c.lastTok = tok
		switch tok.Kind {
		case TokenSemicolon:
			if depth == 0 {
				c.dict.Add(&dictEntry{name: name, sig: sig, tokens: body})
				if c.logf != nil {
					c.logf("deferred %s %v (%d tokens)", name, sig, len(body))
				}
				return nil
			}
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenColon:
			return parseError(fmt.Sprintf("nested definition inside %s", name))
		}
		body = append(body, tok)
	}
}

// defineEager compiles a definition immediately, seeding the type stack
// from the declared inputs if any.
func (c *Compiler) defineEager(name string, sig *Signature, src *tokenSource) error {
	if c.badSig != nil {
		bad := c.badSig
		c.badSig = nil
		return typeSigError{fmt.Errorf("bad signature %q: %w", bad.text, bad.err)}
	}

	c.resetDefinition(name)
	if sig != nil {
		for _, t := range sig.Inputs {
			c.types = append(c.types, stackEntry{t, c.paramSlot(t)})
		}
	}

	if err := c.compileBody(src, true); err != nil {
		return err
	}
	cid, outSig, err := c.finishDefinition(sig)
	if err != nil {
		return err
	}

	if err := c.store.StoreWord(name, "user", cid, outSig.String()); err != nil {
		return ioError{err}
	}
	c.dict.Add(&dictEntry{name: name, cid: &cid, sig: outSig})
	if c.logf != nil {
		c.logf("compiled %s %v -> %s", name, outSig, cid)
	}
	return nil
}

func (c *Compiler) resetDefinition(name string) {
	c.curWord = name
	c.types = nil
	c.out = &blob.Buffer{}
	c.quots = nil
	c.capture = nil
	c.capDepth = 0
	c.arrayMarks = nil
	c.slots = nil
}

// compileBody consumes tokens until the terminating ';' (inDefinition)
// or end of input (token replay).
func (c *Compiler) compileBody(src *tokenSource, inDefinition bool) error {
	for {
		tok, err := src.next()
		if err == io.EOF {
			if inDefinition {
				return parseError(fmt.Sprintf("unexpected eof in definition of %s", c.curWord))
			}
			if c.capDepth > 0 {
				return parseError("unmatched '('")
			}
			return nil
		} else if err != nil {
			return err
		}
		c.lastTok = tok

		if c.capDepth > 0 {
			if err := c.captureToken(tok); err != nil {
				return err
			}
			continue
		}

		if tok.Kind == TokenSemicolon {
			if !inDefinition {
				return parseError("unexpected ';'")
			}
			return nil
		}

		if err := c.compileToken(tok, src); err != nil {
			return err
		}
	}
}

// captureToken appends one token to the open literal quotation, closing
// it when the nesting unwinds.
func (c *Compiler) captureToken(tok Token) error {
	switch tok.Kind {
	case TokenLParen:
		if c.capDepth >= maxQuotDepth {
			return limitError{"quotation depth", maxQuotDepth}
		}
		c.capDepth++
	case TokenRParen:
		c.capDepth--
		if c.capDepth == 0 {
			if len(c.quots) >= maxQuotDepth {
				return limitError{"pending quotations", maxQuotDepth}
			}
			c.quots = append(c.quots, &quotation{
				open:   c.capOpen,
				tokens: c.capture,
				inputs: c.capInputs,
			})
			c.capture = nil
			return nil
		}
	case TokenSemicolon, TokenColon:
		return parseError("unmatched '('")
	}
	c.capture = append(c.capture, tok)
	return nil
}

// compileToken dispatches one significant body token.
func (c *Compiler) compileToken(tok Token, src *tokenSource) error {
	switch tok.Kind {
	case TokenNumber:
		return c.compileNumber(tok.Num)
	case TokenString:
		return c.compileString(tok.Text)
	case TokenWord:
		return c.compileWordRef(tok, src)
	case TokenLParen:
		// opening a literal quotation captures the current stack shape
		// as its inputs; body tokens are retained, not compiled
		c.capDepth = 1
		c.capOpen = tok
		c.capInputs = c.types.clone()
		c.capture = nil
		return nil
	case TokenRParen:
		return parseError("unmatched ')'")
	case TokenLBracket:
		if len(c.arrayMarks) >= maxArrayDepth {
			return limitError{"array nesting", maxArrayDepth}
		}
		c.arrayMarks = append(c.arrayMarks, c.types.depth())
		return nil
	case TokenRBracket:
		return c.compileArrayClose()
	case TokenColon:
		return parseError(fmt.Sprintf("nested definition inside %s", c.curWord))
	case TokenDollar:
		return parseError("type declaration inside definition")
	}
	return parseError(fmt.Sprintf("unexpected token: %v", tok))
}

// compileNumber persists the value as a deduplicated 8-byte DATA blob
// and emits a reference; the loader inlines it back to a LIT cell, so
// the value must fit the 62-bit literal payload.
func (c *Compiler) compileNumber(n int64) error {
	if _, err := cells.NewLit(n); err != nil {
		return numberRangeError(n)
	}
	cid, err := c.store.StoreLiteral(n, "i64")
	if err != nil {
		return ioError{err}
	}
	c.out.AppendRef(blob.Data, cid)
	c.types = append(c.types, stackEntry{typeI64, noSlot})
	return nil
}

// compileString persists the literal as a DATA blob holding the standard
// heap object header plus NUL-terminated UTF-8 and emits a reference;
// the loader links it as an address push. Strings are immutable; the mut
// primitive yields a mutable copy.
func (c *Compiler) compileString(s string) error {
	raw := []byte(s)
	data := make([]byte, hdrSize+len(raw)+1)
	binary.LittleEndian.PutUint64(data[hdrCount:], uint64(len(raw)))
	data[hdrElemSize] = 1
	binary.LittleEndian.PutUint64(data[hdrElemType:], 0)
	copy(data[hdrSize:], raw)

	sigCID, err := c.store.StoreTypeSig("", "str")
	if err != nil {
		return ioError{err}
	}
	cid, err := c.store.StoreBlob(blob.Data, &sigCID, data)
	if err != nil {
		return ioError{err}
	}
	c.out.AppendRef(blob.Data, cid)
	c.types = append(c.types, stackEntry{typeStr, noSlot})
	return nil
}

// compileWordRef resolves a name: immediate words run their handler;
// otherwise pending quotations are materialized and the best typed
// overload is applied and emitted.
func (c *Compiler) compileWordRef(tok Token, src *tokenSource) error {
	head := c.dict.Lookup(tok.Text)
	if head == nil {
		return unknownWordError(tok.Text)
	}
	if head.isImmediate {
		return head.handler(c, src)
	}

	if err := c.materializeQuots(); err != nil {
		return err
	}

	e := c.dict.LookupTyped(tok.Text, c.types)
	if e == nil {
		return noOverloadError(tok.Text)
	}
	if e.tokens != nil {
		return c.monomorphize(e)
	}
	return c.applyAndEmit(e)
}

func (c *Compiler) applyAndEmit(e *dictEntry) error {
	var stashes int
	switch {
	case !e.isPrimitive:
		// a word call is a real ownership transfer: the callee seeds
		// its heap-typed parameters with slots of its own and frees
		// whatever it does not return
		c.consumeSlots(len(e.sig.Inputs), slotEscaped)
	case e.primID == primFree:
		c.consumeSlots(len(e.sig.Inputs), slotFreed)
	case e.primID == primToR || e.primID == primTwoToR:
		c.consumeSlots(len(e.sig.Inputs), slotEscaped)
	default:
		stashes = c.primitiveConsume(e)
	}

	ts, err := applySignature(c.types, e.sig)
	if err != nil {
		return fmt.Errorf("in word %s: %w", e.name, err)
	}
	c.types = ts

	if e.isPrimitive {
		c.out.AppendPrimitive(e.primID)
		for i := 0; i < stashes; i++ {
			c.out.AppendPrimitive(primFromR)
			c.out.AppendPrimitive(primFree)
		}
	} else {
		c.out.AppendRef(blob.Word, *e.cid)
	}
	c.ownOutputs(len(e.sig.Outputs))
	return nil
}

// consumeSlots transfers ownership of slots whose last stack reference
// sits in the n entries a consumer is about to pop. Only used where the
// transfer is real: free retires the slot, a return-stack move or a
// word call hands the allocation to a side that accounts for it. Slots
// still referenced below the popped region stay owned here.
func (c *Compiler) consumeSlots(n int, state slotState) {
	depth := c.types.depth()
	if n > depth {
		n = depth
	}
	popped := c.types[depth-n:]
	below := c.types[:depth-n]
	for _, ent := range popped {
		if ent.slot == noSlot || c.slots[ent.slot] != slotLive {
			continue
		}
		shared := false
		for _, keep := range below {
			if keep.slot == ent.slot {
				shared = true
				break
			}
		}
		if !shared {
			c.slots[ent.slot] = state
		}
	}
}

// primRetains lists input positions (0 = top of stack) whose values a
// primitive stores into durable memory; a consumed slot at such a
// position escapes into the aggregate instead of being freed.
var primRetains = map[uint16][]int{
	primStore:    {1},
	primArraySet: {2},
	primArrayFil: {1},
}

// primitiveConsume handles an ordinary primitive popping the last
// reference to an owned allocation. The primitive only reads the
// pointer, so the compiler wraps it: the pointer is duplicated onto the
// return stack before the call and freed right after, which keeps the
// no-leak property without the primitive knowing about slots. Returns
// the number of stashed pointers so the caller emits the matching
// r> free pairs.
func (c *Compiler) primitiveConsume(e *dictEntry) (stashes int) {
	n := len(e.sig.Inputs)
	depth := c.types.depth()
	if n > depth {
		n = depth
	}
	retained := primRetains[e.primID]
	seen := make(map[int]bool)
	// no registered primitive takes more than three inputs, the deepest
	// position emitStash can reach
	limit := n
	if limit > 3 {
		limit = 3
	}
	for p := 0; p < limit; p++ {
		ent := c.types[depth-1-p]
		if ent.slot == noSlot || c.slots[ent.slot] != slotLive || seen[ent.slot] {
			continue
		}
		seen[ent.slot] = true
		if sigKeepsInput(e.sig, n-1-p) {
			continue
		}
		shared := false
		for _, keep := range c.types[:depth-n] {
			if keep.slot == ent.slot {
				shared = true
				break
			}
		}
		if shared {
			continue
		}
		if containsPos(retained, p) {
			c.slots[ent.slot] = slotEscaped
			continue
		}
		c.slots[ent.slot] = slotFreed
		c.emitStash(p)
		stashes++
	}
	return stashes
}

// sigKeepsInput reports whether input i flows back out through a shared
// type variable (identity-shaped signatures); such values survive the
// primitive and must not be freed.
func sigKeepsInput(sig Signature, i int) bool {
	t := sig.Inputs[i]
	if !t.isVar() {
		return false
	}
	for _, o := range sig.Outputs {
		if o == t {
			return true
		}
	}
	return false
}

func containsPos(positions []int, p int) bool {
	for _, q := range positions {
		if q == p {
			return true
		}
	}
	return false
}

// emitStash saves the pointer at stack position p (0 = top) onto the
// return stack without disturbing the operands. No registered primitive
// takes more than three inputs, so three positions suffice.
func (c *Compiler) emitStash(p int) {
	switch p {
	case 0:
		c.out.AppendPrimitive(primDup)
		c.out.AppendPrimitive(primToR)
	case 1:
		c.out.AppendPrimitive(primOver)
		c.out.AppendPrimitive(primToR)
	case 2:
		c.out.AppendPrimitive(primRot)
		c.out.AppendPrimitive(primDup)
		c.out.AppendPrimitive(primToR)
		c.out.AppendPrimitive(primRot)
		c.out.AppendPrimitive(primRot)
	}
}

// ownOutputs assigns fresh slots to heap-owning values a call produced
// (a word returning an allocation, or a primitive like mut and
// array-concat): the callee made them this word's responsibility.
// Entries that already carry a slot propagated through a type variable
// keep it.
func (c *Compiler) ownOutputs(n int) {
	for i := 0; i < n && i < c.types.depth(); i++ {
		ent := &c.types[len(c.types)-1-i]
		if ent.slot != noSlot {
			continue
		}
		switch ent.t {
		case typeArray, typeArrayMut, typeStrMut:
			ent.slot = c.newSlot()
		}
	}
}

// paramSlot seeds a declared input: heap-typed parameters are owned by
// the word being compiled, which frees them at exit unless they are
// returned.
func (c *Compiler) paramSlot(t typeID) int {
	switch t {
	case typeArray, typeArrayMut, typeStrMut:
		return c.newSlot()
	}
	return noSlot
}

func (c *Compiler) newSlot() int {
	c.slots = append(c.slots, slotLive)
	return len(c.slots) - 1
}

// materializeQuots turns pending literal quotations into standalone
// QUOTATION blobs, emitting an address push for each in source order.
func (c *Compiler) materializeQuots() error {
	quots := c.quots
	c.quots = nil
	for _, q := range quots {
		tq, err := c.compileQuot(q, q.inputs)
		if err != nil {
			return err
		}

		inSig := typeListString(q.inputs.types())
		outSig := typeListString(tq.outputs.types())
		sigCID, err := c.store.StoreTypeSig(inSig, outSig)
		if err != nil {
			return ioError{err}
		}
		cid, err := c.store.StoreBlob(blob.Quotation, &sigCID, tq.buf.Bytes())
		if err != nil {
			return ioError{err}
		}

		c.out.AppendRef(blob.Quotation, cid)
		c.types = append(c.types, stackEntry{typePtr, noSlot})
		if c.logf != nil {
			c.logf("quotation %s -> %s as %s", inSig, outSig, cid)
		}
	}
	return nil
}

// compileQuot compiles a literal quotation under a type context,
// returning its emission buffer and resulting stack. Compiler state is
// saved and restored around the sub-compilation; the slot table is
// shared so allocations inside the quotation stay tracked.
func (c *Compiler) compileQuot(q *quotation, ctx typeStack) (typedQuot, error) {
	saveTypes, saveOut := c.types, c.out
	saveQuots, saveMarks := c.quots, c.arrayMarks
	c.types = ctx.clone()
	c.out = &blob.Buffer{}
	c.quots = nil
	c.arrayMarks = nil

	err := c.compileBody(replaySource(q.tokens), false)
	if err == nil {
		err = c.materializeQuots()
	}

	tq := typedQuot{buf: c.out, outputs: c.types}
	c.types, c.out = saveTypes, saveOut
	c.quots, c.arrayMarks = saveQuots, saveMarks
	if err != nil {
		return tq, err
	}
	return tq, nil
}

// popQuot takes the most recent pending quotation.
func (c *Compiler) popQuot() *quotation {
	if len(c.quots) == 0 {
		return nil
	}
	q := c.quots[len(c.quots)-1]
	c.quots = c.quots[:len(c.quots)-1]
	return q
}

// compileArrayClose lowers `[ elem... ]`: all elements must share one
// type; the emitted code allocates the object, writes its header with
// the pointer stashed on the return stack, and pops each element into
// place.
func (c *Compiler) compileArrayClose() error {
	if len(c.arrayMarks) == 0 {
		return parseError("unmatched ']'")
	}
	mark := c.arrayMarks[len(c.arrayMarks)-1]
	c.arrayMarks = c.arrayMarks[:len(c.arrayMarks)-1]

	if c.types.depth() < mark {
		return stackDepthError{mark, c.types.depth()}
	}
	elems := c.types[mark:]
	n := len(elems)

	elemType := typeUnknown
	for i, ent := range elems {
		if i == 0 {
			elemType = ent.t
			continue
		}
		if ent.t != elemType {
			return typeMismatchError{elemType, ent.t}
		}
	}
	// element values stored into the array are reachable through it
	for _, ent := range elems {
		if ent.slot != noSlot {
			c.slots[ent.slot] = slotEscaped
		}
	}

	out := c.out
	out.AppendInline(int64(hdrSize + 8*n))
	out.AppendPrimitive(primAlloc)
	out.AppendPrimitive(primToR)

	out.AppendInline(int64(n))
	out.AppendPrimitive(primRFetch)
	out.AppendPrimitive(primStore)

	out.AppendInline(8)
	out.AppendPrimitive(primRFetch)
	out.AppendInline(hdrElemSize)
	out.AppendPrimitive(primAdd)
	out.AppendPrimitive(primCStore)

	out.AppendInline(int64(elemType))
	out.AppendPrimitive(primRFetch)
	out.AppendInline(hdrElemType)
	out.AppendPrimitive(primAdd)
	out.AppendPrimitive(primStore)

	for i := n - 1; i >= 0; i-- {
		out.AppendPrimitive(primRFetch)
		out.AppendInline(int64(hdrSize + 8*i))
		out.AppendPrimitive(primAdd)
		out.AppendPrimitive(primStore)
	}

	out.AppendPrimitive(primFromR)

	if len(c.slots) >= maxSlots {
		return limitError{"slots", maxSlots}
	}
	c.types = append(c.types[:mark], stackEntry{typeArray, c.newSlot()})
	return nil
}

// finishDefinition materializes stragglers, verifies the declared
// signature and slot discipline, and persists the body blob. The tag
// stream carries no explicit EXIT; the loader appends one.
func (c *Compiler) finishDefinition(declared *Signature) (blob.CID, Signature, error) {
	var zero blob.CID

	if c.capDepth > 0 {
		return zero, Signature{}, parseError("unmatched '('")
	}
	if len(c.arrayMarks) > 0 {
		return zero, Signature{}, parseError("unmatched '['")
	}
	if err := c.materializeQuots(); err != nil {
		return zero, Signature{}, err
	}
	c.freeLeakedSlots()

	sig := Signature{Outputs: c.types.types()}
	if declared != nil {
		sig.Inputs = declared.Inputs
		if len(declared.Outputs) != len(sig.Outputs) {
			return zero, Signature{}, fmt.Errorf(
				"%s declares %d outputs but produces %d: %w",
				c.curWord, len(declared.Outputs), len(sig.Outputs),
				errDeclaredOutputs)
		}
		for i, want := range declared.Outputs {
			got := sig.Outputs[i]
			if want.isConcrete() && got.isConcrete() && want != got {
				return zero, Signature{}, typeMismatchError{want, got}
			}
		}
	}

	sigCID, err := c.store.StoreTypeSig(sig.InputString(), sig.OutputString())
	if err != nil {
		return zero, Signature{}, ioError{err}
	}
	cid, err := c.store.StoreBlob(blob.Word, &sigCID, c.out.Bytes())
	if err != nil {
		return zero, Signature{}, ioError{err}
	}
	return cid, sig, nil
}

var errDeclaredOutputs = declaredOutputsError{}

type declaredOutputsError struct{}

func (declaredOutputsError) Error() string      { return "declared outputs mismatch" }
func (declaredOutputsError) category() Category { return CatType }

// freeLeakedSlots closes the slot discipline at EXIT: every slot
// allocated within the word that is neither freed, transferred, nor
// reachable from the final stack gets a synthesized free before EXIT.
// Slots on the final stack become the caller's responsibility. Every
// site that pops a slot's last stack reference already freed or
// transferred it, so in practice this sweep finds nothing; it is the
// declared policy's backstop.
func (c *Compiler) freeLeakedSlots() {
	reachable := make(map[int]bool, len(c.types))
	for _, ent := range c.types {
		if ent.slot != noSlot {
			reachable[ent.slot] = true
		}
	}
	for id, state := range c.slots {
		if state == slotLive && !reachable[id] {
			c.slots[id] = slotFreed
			c.out.AppendPrimitive(primFree)
		}
	}
}
