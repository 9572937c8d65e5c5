// Package query compiles and executes read requests.
//
// A Query is built by New from a class name, a constraint tree and rest
// options, then run once with Execute. Execution is a fixed sequence of
// stages:
//
//  1. resolve the caller's ACL subjects
//  2. apply a class redirect, then reject unknown classes when client
//     class creation is disabled
//  3. rewrite $select, $dontSelect, $inQuery and $notInQuery into $in and
//     $nin by running nested queries
//  4. collapse mixed direct/operator constraints into $eq
//  5. expand include=* and excludeKeys against the class schema
//  6. find, then optionally count
//  7. inflate included pointers
//  8. reduce to distinct values when requested
//  9. run the afterFind trigger
//
// Find and Get wrap Execute with the beforeFind trigger.
package query
