package query

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/tenant"
)

// Subquery operators in resolution order.
const (
	opSelect     = "$select"
	opDontSelect = "$dontSelect"
	opInQuery    = "$inQuery"
	opNotInQuery = "$notInQuery"
)

var subqueryOperators = []string{opSelect, opDontSelect, opInQuery, opNotInQuery}

// resolveSubqueries replaces subquery operators one occurrence at a time,
// searching again from the root after each replacement. A resolved tree
// contains none of the operators, so running this again is a no-op.
func (q *Query) resolveSubqueries(ctx context.Context) error {
	for _, op := range subqueryOperators {
		for {
			holder := findObjectWithKey(q.where, op)
			if holder == nil {
				break
			}
			var err error
			switch op {
			case opSelect, opDontSelect:
				err = q.replaceSelect(ctx, holder, op)
			default:
				err = q.replaceInQuery(ctx, holder, op)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// findObjectWithKey returns the first object holding key, depth-first with
// the holder checked before its children and keys visited in sorted order.
func findObjectWithKey(root any, key string) map[string]any {
	switch v := root.(type) {
	case []any:
		for _, item := range v {
			if found := findObjectWithKey(item, key); found != nil {
				return found
			}
		}
	case map[string]any:
		if _, ok := v[key]; ok {
			return v
		}
		for _, k := range ir.SortedKeys(v) {
			if found := findObjectWithKey(v[k], key); found != nil {
				return found
			}
		}
	}
	return nil
}

func (q *Query) replaceInQuery(ctx context.Context, holder map[string]any, op string) error {
	payload, ok := holder[op].(map[string]any)
	if !ok {
		return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
	}
	where, whereOK := payload["where"].(map[string]any)
	className, _ := payload["className"].(string)
	if !whereOK || className == "" {
		return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
	}
	redirectKey, _ := payload["redirectClassNameForKey"].(string)

	sub, err := q.subquery(className, where, redirectKey)
	if err != nil {
		return err
	}
	res, err := sub.Execute(ctx)
	if err != nil {
		return err
	}

	values := make([]any, 0, len(res.Results))
	for _, row := range res.Results {
		values = append(values, ir.NewPointer(sub.ClassName(), ir.ObjectID(row)))
	}
	delete(holder, op)
	target := "$in"
	if op == opNotInQuery {
		target = "$nin"
	}
	appendValues(holder, target, values)
	return nil
}

func (q *Query) replaceSelect(ctx context.Context, holder map[string]any, op string) error {
	payload, ok := holder[op].(map[string]any)
	if !ok || len(payload) != 2 {
		return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
	}
	query, queryOK := payload["query"].(map[string]any)
	key, _ := payload["key"].(string)
	if !queryOK || key == "" {
		return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
	}
	className, _ := query["className"].(string)
	if className == "" {
		return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
	}
	where := ir.Object{}
	if raw, present := query["where"]; present {
		w, ok := raw.(map[string]any)
		if !ok {
			return apierr.New(apierr.InvalidQuery, "improper usage of %s", op)
		}
		where = w
	}
	redirectKey, _ := query["redirectClassNameForKey"].(string)

	sub, err := q.subquery(className, where, redirectKey)
	if err != nil {
		return err
	}
	res, err := sub.Execute(ctx)
	if err != nil {
		return err
	}

	values := make([]any, 0, len(res.Results))
	for _, row := range res.Results {
		if v, ok := ir.Lookup(row, key); ok {
			values = append(values, v)
		}
	}
	delete(holder, op)
	target := "$in"
	if op == opDontSelect {
		target = "$nin"
	}
	appendValues(holder, target, values)
	return nil
}

func appendValues(holder map[string]any, target string, values []any) {
	if existing, ok := holder[target].([]any); ok {
		holder[target] = append(existing, values...)
		return
	}
	holder[target] = values
}

// subquery builds the nested query of a subquery operator. Each nested
// where is a strict subtree of its parent's, so MaxSubqueryDepth alone
// bounds the recursion.
func (q *Query) subquery(className string, where ir.Object, redirectKey string) (*Query, error) {
	maxDepth := q.rt.Config.MaxSubqueryDepth
	if maxDepth <= 0 {
		maxDepth = tenant.DefaultMaxSubqueryDepth
	}
	if q.depth+1 > maxDepth {
		return nil, apierr.New(apierr.InvalidQuery, "subquery nesting exceeds %d levels", maxDepth)
	}
	opts := Options{RedirectClassNameForKey: redirectKey}
	if q.opts.SubqueryReadPreference != "" {
		opts.ReadPreference = q.opts.SubqueryReadPreference
		opts.SubqueryReadPreference = q.opts.SubqueryReadPreference
	} else {
		opts.ReadPreference = q.opts.ReadPreference
	}
	return newQuery(q.rt, q.auth, className, where, opts, q.depth+1)
}
