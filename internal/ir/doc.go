// Package ir defines the wire-level value model shared by the query and write
// pipelines: plain JSON objects, Pointers, ACLs, Dates, Files, update
// operations, dotted paths and the canonical encoding used to fingerprint
// constraint trees.
//
// This package imports nothing internal. Every other package may import ir.
//
// Values follow the object-format JSON used on the wire:
//
//	{"__type": "Pointer", "className": "_User", "objectId": "aB3dE5fG7h"}
//	{"__type": "Date", "iso": "2024-05-01T10:00:00.000Z"}
//	{"__type": "File", "name": "a.png", "url": "..."}
//	{"__op": "Increment", "amount": 1}
package ir
