/*
Package main implements march, a compiler and execution substrate for a
concatenative stack language in the Forth family.

A march program is a sequence of words, each a subroutine consuming and
producing values on an operand stack:

	: five 5 ;
	: ten 10 ;
	: fifteen five ten + ;

The compiler is one-pass and type-directed: it mirrors the runtime stack
as a compile-time stack of (type, slot) pairs, resolves overloads by
scoring candidate signatures against the stack top, unifies type
variables left to right, and tracks heap allocations through stack
shuffles so every allocation is freed, transferred, or returned.

Compiled definitions are not machine code but content-addressed blobs: a
word's body is a stream of 16-bit tags referencing primitives by frozen
small-integer id and other blobs by the SHA-256 of their bytes.
Identical bodies and identical literals collapse to one stored blob.
Words whose declared inputs are polymorphic retain their token list and
are monomorphized per concrete input-type vector at each call site,
memoized in a specialization cache.

Execution goes through the loader: given a CID it recursively links
referenced blobs into threaded-code cell arrays inside the engine arena,
memoizing by CID so shared dependencies link once. The engine is a
classic inner interpreter over 64-bit tagged cells: an XT cell calls a
primitive or another word, a LIT cell pushes a value, and XT address
zero returns.

Quotations, written ( ... ), are deferred code. The compile-time
immediates if and times inline their quotations with branch primitives;
a quotation reaching a runtime word instead becomes a standalone blob
whose linked address is pushed for execute.

The blob store persists to SQLite, so compile and run can be separate
processes: the CLI compiles source files into a database and can execute
any stored word by name.
*/
package main
