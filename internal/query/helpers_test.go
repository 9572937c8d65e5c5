package query

import "github.com/roach88/restcore/internal/schema"

func relationClass() *schema.Class {
	return schema.NewClass("Shelf", map[string]schema.Field{
		"posts": {Type: schema.TypeRelation, TargetClass: "Post"},
	})
}
