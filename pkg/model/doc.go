// Package model describes the base objects manipulated by refmon.
//
// The object model for refmon is composed of:
//
//  Refs:
//    A ref is a named pointer. Its target is either an object id (a direct ref)
//    or the name of another ref (a symbolic ref, e.g. HEAD -> refs/heads/main).
//
//  Records:
//    A record is the immutable snapshot of one ref as read from a store, with the
//    write-order counter (update index) the store assigned to it.
//
//  Formats:
//    The on-disk layouts a ref store may use: "files" (one file per ref plus a packed-refs table)
//    and "reftable" (a stack of immutable, indexed tables).
//
//  Findings:
//    The outcome of integrity checks, with a kind, a severity and the ref they relate to.
package model
