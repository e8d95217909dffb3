// Package control implements the _control file codec: a text, one-record-
// per-line "key = value" serialization of types.ControlRecord. Unknown
// keys are preserved verbatim as parameters; the writer emits known
// fields in a fixed canonical order so that Parse(Emit(c)) == c for every
// record the emitter produces.
package control
