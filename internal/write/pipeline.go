package write

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/schema"
)

// Outcome is what a stage hands back to the driver.
type Outcome struct {
	response *Result
}

// Continue lets the next stage run.
func Continue() Outcome {
	return Outcome{}
}

// ShortCircuit answers the write with resp. Only finally stages run after it.
func ShortCircuit(resp *Result) Outcome {
	return Outcome{response: resp}
}

// Stage is one step of the pipeline.
type Stage struct {
	Name string
	// Finally stages also run after a short circuit.
	Finally bool
	Run     func(ctx context.Context) (Outcome, error)
}

// Stages returns the pipeline of w in execution order.
func (w *Write) Stages() []Stage {
	return []Stage{
		{Name: "build_acl", Run: w.buildACL},
		{Name: "validate_client_class_creation", Run: w.validateClientClassCreation},
		{Name: "handle_installation", Run: w.handleInstallation},
		{Name: "handle_session", Run: w.handleSession},
		{Name: "validate_auth_data", Run: w.validateAuthData},
		{Name: "before_save", Run: w.runBeforeSaveTrigger},
		{Name: "validate_schema", Run: w.validateSchema},
		{Name: "set_required_fields", Run: w.setRequiredFields},
		{Name: "transform_user", Run: w.transformUser},
		{Name: "expand_files", Finally: true, Run: w.expandFilesForExistingObjects},
		{Name: "destroy_duplicated_sessions", Run: w.destroyDuplicatedSessions},
		{Name: "run_database_operation", Run: w.runDatabaseOperation},
		{Name: "create_session_token", Finally: true, Run: w.createSessionTokenIfNeeded},
		{Name: "handle_followups", Run: w.handleFollowups},
		{Name: "after_save", Run: w.runAfterSaveTrigger},
		{Name: "clean_user_auth_data", Finally: true, Run: w.cleanUserAuthData},
	}
}

// Execute runs the pipeline and returns the response. The first failing
// stage aborts the write.
func (w *Write) Execute(ctx context.Context) (*Result, error) {
	shortCircuited := false
	for _, s := range w.Stages() {
		if shortCircuited && !s.Finally {
			continue
		}
		out, err := s.Run(ctx)
		if err != nil {
			w.rt.Logger.Debug("write stage failed",
				"class_name", w.className,
				"object_id", w.objectID(),
				"stage", s.Name,
				"error", err,
			)
			return nil, err
		}
		if out.response != nil && !shortCircuited {
			shortCircuited = true
			w.response = out.response
			w.rt.Logger.Debug("write short-circuited",
				"class_name", w.className,
				"stage", s.Name,
			)
		}
	}
	if w.response == nil {
		w.response = &Result{Response: ir.Object{}}
	}
	return w.response, nil
}

func (w *Write) buildACL(ctx context.Context) (Outcome, error) {
	if w.auth.IsMaster {
		return Continue(), nil
	}
	acl, err := w.auth.ACL(ctx, w.rt.Storage, w.rt.Cache)
	if err != nil {
		return Continue(), err
	}
	w.runOptions.ACL = acl
	return Continue(), nil
}

func (w *Write) validateClientClassCreation(ctx context.Context) (Outcome, error) {
	if w.rt.Config.AllowClientClassCreation || w.auth.IsMaster || schema.IsSystemClass(w.className) {
		return Continue(), nil
	}
	sch, err := w.rt.Storage.LoadSchema(ctx)
	if err != nil {
		return Continue(), err
	}
	if !sch.HasClass(w.className) {
		return Continue(), apierr.New(apierr.OperationForbidden,
			"This user is not allowed to access non-existent class: %s", w.className)
	}
	return Continue(), nil
}
