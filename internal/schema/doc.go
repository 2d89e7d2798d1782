// Package schema validates object property trees against per-type CUE
// schemas before they are committed.
//
// Schemas are declared in CUE files under a top-level "schema" struct,
// one field per object type:
//
//	schema: document: {
//		title: string
//		body?: string
//		tags?: [...string]
//	}
//
// Declarations are open by default: properties not named in the schema
// pass unchecked. Wrap the body in close({...}) to reject unknown
// properties. Object types without a registered schema are not validated
// at all.
package schema
