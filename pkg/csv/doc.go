// Package csv implements the Dialect/Parser pair used to split a raw
// byte stream into LOAD-DATA-style rows without depending on
// encoding/csv, which has no configurable line terminator and no
// escape-doubling rule. Behavior is ported from
// original_source/src/replica/Csv.cc.
package csv
