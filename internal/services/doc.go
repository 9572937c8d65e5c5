// Package services holds the collaborators the pipelines call out to: file
// URL expansion, the user/role cache, live query notification and the user
// email controller. Each has an in-process implementation suitable for a
// single node.
package services
