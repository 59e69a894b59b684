// Package expr compiles and evaluates stored conditions.
//
// Conditions are JSON trees, never code:
//
//	{"field": "amount", "op": "gt", "value": 100}
//	{"and": [ {...}, {...} ]}
//	{"or":  [ {...}, {...} ]}
//	{"not": {...}}
//
// Comparison operators are eq, ne, gt, gte, lt, lte, like and in. Field
// references are JMESPath expressions over the record snapshot, so nested
// values use dotted paths ("customer.tier").
//
// Compile rejects malformed trees with ir.ValidationError at save time.
// Evaluate never fails: a field that is absent (or null) makes its
// comparison false, and so does a type mismatch.
package expr
