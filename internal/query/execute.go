package query

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/schema"
	"github.com/roach88/restcore/internal/triggers"
)

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// Execute runs every stage in order and returns the response. The first
// failing stage aborts the query.
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	stages := []stage{
		{"build_acl", q.buildACL},
		{"redirect_class_name", q.redirectClassNameForKey},
		{"validate_client_class_creation", q.validateClientClassCreation},
		{"replace_subqueries", q.resolveSubqueries},
		{"replace_equality", q.replaceEquality},
		{"include_all", q.handleIncludeAll},
		{"exclude_keys", q.handleExcludeKeys},
		{"find", q.runFind},
		{"count", q.runCount},
		{"include", q.handleInclude},
		{"distinct", q.handleDistinct},
		{"after_find", q.runAfterFindTrigger},
	}
	for _, s := range stages {
		if err := s.run(ctx); err != nil {
			q.rt.Logger.Debug("query stage failed",
				"class_name", q.className,
				"stage", s.name,
				"depth", q.depth,
				"error", err,
			)
			return nil, err
		}
	}
	return q.response, nil
}

func (q *Query) buildACL(ctx context.Context) error {
	acl, err := q.auth.ACL(ctx, q.rt.Storage, q.rt.Cache)
	if err != nil {
		return err
	}
	q.findOptions.ACL = acl
	return nil
}

func (q *Query) redirectClassNameForKey(ctx context.Context) error {
	if q.redirectKey == "" {
		return nil
	}
	className, err := q.rt.Storage.RedirectClassNameForKey(ctx, q.className, q.redirectKey)
	if err != nil {
		return err
	}
	q.redirectClassName = className
	q.className = className
	return nil
}

func (q *Query) validateClientClassCreation(ctx context.Context) error {
	if q.rt.Config.AllowClientClassCreation || q.auth.IsMaster || schema.IsSystemClass(q.className) {
		return nil
	}
	sch, err := q.rt.Storage.LoadSchema(ctx)
	if err != nil {
		return err
	}
	if !sch.HasClass(q.className) {
		return apierr.New(apierr.OperationForbidden, "This user is not allowed to access non-existent class: %s", q.className)
	}
	return nil
}

// replaceEquality rewrites top-level constraints that mix plain keys with
// operators, moving the plain keys under $eq.
func (q *Query) replaceEquality(ctx context.Context) error {
	for key, constraint := range q.where {
		q.where[key] = replaceEqualityConstraint(constraint)
	}
	return nil
}

func replaceEqualityConstraint(constraint any) any {
	m, ok := constraint.(map[string]any)
	if !ok {
		return constraint
	}
	equalTo := ir.Object{}
	hasOperator := false
	for k, v := range m {
		if len(k) > 0 && k[0] == '$' {
			hasOperator = true
		} else {
			equalTo[k] = v
		}
	}
	if !hasOperator || len(equalTo) == 0 {
		return constraint
	}
	for k := range equalTo {
		delete(m, k)
	}
	m["$eq"] = equalTo
	return m
}

func (q *Query) handleIncludeAll(ctx context.Context) error {
	if !q.includeAll {
		return nil
	}
	class, err := q.classSchema(ctx)
	if err != nil || class == nil {
		return err
	}
	for _, field := range class.ReferenceFields() {
		q.include = mergeIncludes(q.include, []string{field})
		if q.keys != nil {
			q.keys = dedupe(append(q.keys, field))
		}
	}
	return nil
}

func (q *Query) handleExcludeKeys(ctx context.Context) error {
	if len(q.excludeKeys) == 0 {
		return nil
	}
	if q.keys == nil {
		class, err := q.classSchema(ctx)
		if err != nil || class == nil {
			return err
		}
		q.keys = class.FieldNames()
	}
	excluded := make(map[string]bool, len(q.excludeKeys))
	for _, k := range q.excludeKeys {
		excluded[k] = true
	}
	kept := make([]string, 0, len(q.keys))
	for _, k := range q.keys {
		if !excluded[k] {
			kept = append(kept, k)
		}
	}
	q.keys = kept
	return nil
}

// classSchema returns the schema of the query class, or nil when the class
// does not exist yet.
func (q *Query) classSchema(ctx context.Context) (*schema.Class, error) {
	sch, err := q.rt.Storage.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	if !sch.HasClass(q.className) {
		return nil, nil
	}
	return sch.GetOneSchema(q.className)
}

func (q *Query) runFind(ctx context.Context) error {
	if limit := q.findOptions.Limit; limit != nil && *limit == 0 {
		q.response = &Result{Results: []ir.Object{}}
		return nil
	}
	opts := q.findOptions
	opts.Keys = q.Keys()
	res, err := q.rt.Storage.Find(ctx, q.className, q.where, opts)
	if err != nil {
		return err
	}

	results := res.Results
	if results == nil {
		results = []ir.Object{}
	}
	for _, row := range results {
		if q.className == ir.ClassUser {
			q.cleanUser(row)
		}
		q.rt.Files.ExpandFilesInObject(row)
		if q.redirectClassName != "" {
			row["className"] = q.redirectClassName
		}
	}
	q.response = &Result{Results: results}
	return nil
}

// cleanUser removes credentials and internal bookkeeping from a _User row.
// The hashed password stays visible to master and to the user itself.
func (q *Query) cleanUser(row ir.Object) {
	delete(row, "password")
	if !q.auth.IsMaster {
		own := q.auth.UserID() != "" && q.auth.UserID() == ir.ObjectID(row)
		for field := range row {
			if !schema.IsInternalField(field) {
				continue
			}
			if field == auth.HashedPasswordField && own {
				continue
			}
			delete(row, field)
		}
	}
	stripNullProviders(row)
}

// stripNullProviders drops unlinked (null) providers from authData.
func stripNullProviders(row ir.Object) {
	authData, ok := row["authData"].(map[string]any)
	if !ok {
		return
	}
	for provider, data := range authData {
		if data == nil {
			delete(authData, provider)
		}
	}
	if len(authData) == 0 {
		delete(row, "authData")
	}
}

func (q *Query) runCount(ctx context.Context) error {
	if !q.opts.Count {
		return nil
	}
	opts := q.findOptions
	opts.Count = true
	opts.Skip = 0
	opts.Limit = nil
	opts.Keys = nil
	res, err := q.rt.Storage.Find(ctx, q.className, q.where, opts)
	if err != nil {
		return err
	}
	count := res.Count
	q.response.Count = &count
	return nil
}

func (q *Query) handleDistinct(ctx context.Context) error {
	if q.opts.Distinct == "" {
		return nil
	}
	values := []any{}
	add := func(v any) {
		for _, existing := range values {
			if ir.Equal(existing, v) {
				return
			}
		}
		values = append(values, v)
	}
	for _, row := range q.response.Results {
		v, ok := ir.Lookup(row, q.opts.Distinct)
		if !ok || v == nil {
			continue
		}
		if arr, isArray := v.([]any); isArray {
			for _, elem := range arr {
				add(elem)
			}
			continue
		}
		add(v)
	}
	q.response.Results = []ir.Object{}
	q.response.Values = values
	return nil
}

func (q *Query) runAfterFindTrigger(ctx context.Context) error {
	if !q.runAfterFind || q.opts.Distinct != "" {
		return nil
	}
	if !q.rt.Triggers.TriggerExists(q.rt.TenantID, triggers.AfterFind, q.className) {
		return nil
	}
	resp, err := q.rt.Triggers.Dispatch(ctx, q.rt.TenantID, &triggers.AfterFindRequest{
		Common:    q.rt.HookCommon(q.auth),
		ClassName: q.className,
		Query:     q.view(),
		Objects:   q.response.Results,
	})
	if err != nil {
		return err
	}
	results := resp.Objects
	if results == nil {
		results = []ir.Object{}
	}
	if q.redirectClassName != "" {
		for _, row := range results {
			row["className"] = q.redirectClassName
		}
	}
	q.response.Results = results
	return nil
}

// view is the hook-facing form of the query.
func (q *Query) view() *triggers.QueryView {
	return &triggers.QueryView{
		Where:       q.where,
		Keys:        q.opts.Keys,
		ExcludeKeys: q.opts.ExcludeKeys,
		Include:     q.opts.Include,
		Order:       q.opts.Order,
		Limit:       q.opts.Limit,
		Skip:        q.opts.Skip,
		Count:       q.opts.Count,
	}
}
