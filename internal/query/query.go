package query

import (
	"sort"
	"strings"
	"time"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/tenant"
)

// Options are the rest options of a read. List-valued options are comma
// separated strings, as they arrive from clients.
type Options struct {
	Skip  int
	Limit *int
	// Order is a list of fields; a "-" prefix sorts descending.
	Order       string
	Keys        string
	ExcludeKeys string
	// Include lists pointer paths to inflate; "*" includes every pointer field.
	Include string
	Count   bool
	// Distinct reduces results to the unique values of one field.
	Distinct string

	ReadPreference          string
	IncludeReadPreference   string
	SubqueryReadPreference  string
	RedirectClassNameForKey string

	MaxTime time.Duration
}

// Result is the response of a read.
type Result struct {
	Results []ir.Object `json:"results"`
	Count   *int        `json:"count,omitempty"`
	// Values holds the distinct values when Options.Distinct is set.
	Values []any `json:"values,omitempty"`
}

// Query is the descriptor of one read. It is owned by the goroutine that
// executes it and must not be reused.
type Query struct {
	rt        *tenant.Runtime
	auth      *auth.Auth
	className string
	where     ir.Object
	opts      Options

	findOptions storage.FindOptions
	// keys is the requested projection, nil for every field.
	keys        []string
	excludeKeys []string
	include     [][]string
	includeAll  bool

	redirectKey       string
	redirectClassName string
	runAfterFind      bool

	depth int

	response *Result
}

// New compiles a read of className filtered by where.
func New(rt *tenant.Runtime, a *auth.Auth, className string, where ir.Object, opts Options) (*Query, error) {
	return newQuery(rt, a, className, where, opts, 0)
}

func newQuery(rt *tenant.Runtime, a *auth.Auth, className string, where ir.Object, opts Options, depth int) (*Query, error) {
	if a == nil {
		a = auth.Nobody()
	}
	normalized, err := ir.Normalize(where)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidJSON, err, "invalid where: %v", err)
	}
	restWhere, _ := normalized.(map[string]any)
	if restWhere == nil {
		restWhere = ir.Object{}
	}

	if className == ir.ClassSession && !a.IsMaster {
		if a.UserID() == "" {
			return nil, apierr.New(apierr.InvalidSessionToken, "Invalid session token")
		}
		restWhere = ir.Object{"$and": []any{restWhere, ir.Object{"user": a.UserPointer()}}}
	}

	q := &Query{
		rt:           rt,
		auth:         a,
		className:    className,
		where:        restWhere,
		opts:         opts,
		redirectKey:  opts.RedirectClassNameForKey,
		runAfterFind: true,
		depth:        depth,
	}
	if err := q.parseOptions(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Query) parseOptions() error {
	opts := q.opts
	if opts.Skip < 0 {
		return apierr.New(apierr.InvalidQuery, "skip must not be negative")
	}
	q.findOptions = storage.FindOptions{
		Skip:           opts.Skip,
		ReadPreference: opts.ReadPreference,
		MaxTime:        opts.MaxTime,
	}
	if opts.Limit != nil {
		limit := *opts.Limit
		if maxLimit := q.rt.Config.MaxLimit; maxLimit > 0 && (limit < 0 || limit > maxLimit) {
			limit = maxLimit
		}
		q.findOptions.Limit = &limit
	} else if maxLimit := q.rt.Config.MaxLimit; maxLimit > 0 {
		q.findOptions.Limit = &maxLimit
	}

	for _, field := range splitList(opts.Order) {
		key := storage.SortKey{Field: field}
		if strings.HasPrefix(field, "-") {
			key = storage.SortKey{Field: field[1:], Descending: true}
		}
		if key.Field == "" {
			return apierr.New(apierr.InvalidQuery, "invalid order %q", opts.Order)
		}
		q.findOptions.Sort = append(q.findOptions.Sort, key)
	}

	include := splitList(opts.Include)
	if opts.Keys != "" {
		keys := splitList(opts.Keys)
		q.keys = dedupe(keys)
		// A dotted key selects inside a pointer, which must be included.
		for _, key := range keys {
			if i := strings.LastIndexByte(key, '.'); i > 0 {
				include = append(include, key[:i])
			}
		}
	}
	if opts.ExcludeKeys != "" {
		q.excludeKeys = dedupe(splitList(opts.ExcludeKeys))
	}
	for _, path := range include {
		if path == "*" {
			q.includeAll = true
			include = nil
			break
		}
	}
	q.include = includePaths(include)
	return nil
}

// includePaths expands every path into all of its prefixes, de-duplicates
// them and orders them shortest first.
func includePaths(paths []string) [][]string {
	set := make(map[string]bool)
	for _, path := range paths {
		parts := ir.SplitPath(path)
		for i := range parts {
			set[strings.Join(parts[:i+1], ".")] = true
		}
	}
	flat := make([]string, 0, len(set))
	for p := range set {
		flat = append(flat, p)
	}
	sort.Strings(flat)
	out := make([][]string, len(flat))
	for i, p := range flat {
		out[i] = ir.SplitPath(p)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) < len(out[j]) })
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ClassName returns the class the query reads, after any redirect.
func (q *Query) ClassName() string {
	return q.className
}

// Where returns the current constraint tree. After Execute it is fully
// resolved.
func (q *Query) Where() ir.Object {
	return q.where
}

// IncludePaths returns the pointer paths that will be inflated.
func (q *Query) IncludePaths() [][]string {
	return q.include
}

// Keys returns the top-level fields requested from storage, or nil for
// every field.
func (q *Query) Keys() []string {
	if q.keys == nil {
		return nil
	}
	roots := make([]string, 0, len(q.keys))
	for _, k := range q.keys {
		roots = append(roots, ir.RootField(k))
	}
	return dedupe(roots)
}

// ACL returns the resolved subject list, nil for master.
func (q *Query) ACL() []string {
	return q.findOptions.ACL
}
