// Package sqlite exposes a file-backed SQL store through a small connection
// API: open a connection with explicit flags and a busy timeout, run one
// parameterized statement at a time, or run an ordered batch atomically.
//
// Every value crossing the package boundary is one of the five storage
// classes (Null, Integer, Real, Text, Blob). Host values are converted with
// Encode on the way in and engine values with Decode on the way out; anything
// else is rejected with a typed *Error rather than coerced.
//
// A Conn owns a single engine handle. Its operations are serialized, so a
// Conn may be shared between goroutines, but there is no parallelism within
// one connection.
package sqlite
