package graph

import "errors"

// ErrNoMatchingBranch is returned by Resolve when a branch node's
// predicate produces a tag with no matching edge and no default edge.
var ErrNoMatchingBranch = errors.New("graph: no matching branch and no default edge")

// ErrNodeNotFound is returned when a referenced node id does not exist.
var ErrNodeNotFound = errors.New("graph: node not found")

// ErrInvalidGraph is returned by Validate's strict variant when the graph
// has at least one error-severity issue.
var ErrInvalidGraph = errors.New("graph: invalid graph")
