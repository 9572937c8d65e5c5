// Package harness runs YAML scenarios against a fresh tenant and checks
// the outcome of every step.
//
// # Scenario Format
//
//	name: signup_and_post
//	description: "A user signs up and writes a post"
//	schema:
//	  - blog.cue
//	config:
//	  allow_client_class_creation: true
//	setup:
//	  - op: create
//	    class: Tag
//	    data: { name: news }
//	    save_as: news
//	flow:
//	  - op: create
//	    class: _User
//	    data: { username: bob, password: secret }
//	    save_as: bob
//	    expect:
//	      status: 201
//	      response: { username: bob, sessionToken: "<any>" }
//	  - op: create
//	    class: Post
//	    as: bob
//	    data:
//	      title: hello
//	      author: { __type: Pointer, className: _User, objectId: $bob }
//	  - op: find
//	    class: Post
//	    where: { title: hello }
//	    options: { include: author }
//	    expect:
//	      results:
//	        - { author: { username: bob } }
//	assertions:
//	  - type: final_state
//	    class: Post
//	    where: { title: hello }
//	    count: 1
//
// Steps are create, update, find, get and call. "as" picks the caller:
// master, readonly, anonymous or a saved alias, which is authenticated
// through its session token when it has one. String values "$alias" and
// "$alias.field" resolve to the objectId or a field of a saved response.
//
// # Assertion Types
//
//   - trace_contains: a successful flow step has the action and a matching response
//   - trace_order: actions appear in order
//   - trace_count: an action appears exactly N times
//   - final_state: stored rows of a class match, read without ACLs
//
// # Deterministic Testing
//
// Every scenario runs on an in-memory store with testutil.DeterministicClock
// and sequential objectIds ("id0001", ...). Background tasks finish before
// the next step. Snapshots redact session tokens, password hashes and email
// verification tokens, so golden comparison is stable.
package harness
