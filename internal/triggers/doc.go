// Package triggers implements the registry of user-supplied hooks that
// observe and intercept the query and write pipelines.
//
// A Registry is an explicit value owned by the runtime of each tenant; there
// is no package-level state. Registrations are keyed by tenant and a typed
// Key:
//
//	Function  name          cloud function
//	Job       name          background job
//	Validator name          runs before the function of the same name
//	Trigger   phase+class   beforeSave/afterSave/beforeFind/afterFind hook
//
// Registration happens at boot. Freeze seals a tenant; afterwards Register
// fails and Dispatch only reads. UnregisterAll exists for test isolation.
//
// Hooks receive a phase-specific Request (see request.go). Errors that are
// not *apierr.Error, and panics, are normalized into apierr.ScriptFailed.
package triggers
