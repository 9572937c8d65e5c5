package write

import (
	"context"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
	"github.com/roach88/restcore/internal/triggers"
)

// expandFilesForExistingObjects expands File values of an early response.
// Persisted writes answer with what the client sent and need no expansion.
func (w *Write) expandFilesForExistingObjects(ctx context.Context) (Outcome, error) {
	if w.response != nil && w.response.Response != nil {
		w.rt.Files.ExpandFilesInObject(w.response.Response)
	}
	return Continue(), nil
}

// runAfterSaveTrigger publishes the committed row to live query and runs
// the afterSave hook. Hook failures are logged: the write already happened.
func (w *Write) runAfterSaveTrigger(ctx context.Context) (Outcome, error) {
	if w.response == nil || w.stored == nil || w.runOptions.Many {
		return Continue(), nil
	}
	hasHook := w.rt.Triggers.TriggerExists(w.rt.TenantID, triggers.AfterSave, w.className)
	hasLiveQuery := w.rt.LiveQuery.HasLiveQuery(w.className)
	if !hasHook && !hasLiveQuery {
		return Continue(), nil
	}

	if hasLiveQuery {
		w.rt.LiveQuery.OnAfterSave(services.LiveQueryEvent{
			ClassName: w.className,
			Object:    w.stored,
			Original:  w.originalObject(),
		})
	}
	if !hasHook {
		return Continue(), nil
	}
	_, err := w.rt.Triggers.Dispatch(ctx, w.rt.TenantID, &triggers.AfterSaveRequest{
		Common:    w.rt.HookCommon(w.auth),
		ClassName: w.className,
		Object:    ir.CloneObject(w.stored),
		Original:  w.originalObject(),
		Context:   w.hookContext,
	})
	if err != nil {
		w.rt.Logger.Warn("afterSave caught an error",
			"class_name", w.className,
			"object_id", w.objectID(),
			"error", err,
		)
	}
	return Continue(), nil
}

// cleanUserAuthData drops unlinked providers from a _User response.
func (w *Write) cleanUserAuthData(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassUser || w.response == nil || w.response.Response == nil {
		return Continue(), nil
	}
	authData, ok := w.response.Response["authData"].(map[string]any)
	if !ok {
		return Continue(), nil
	}
	for provider, v := range authData {
		if v == nil {
			delete(authData, provider)
		}
	}
	if len(authData) == 0 {
		delete(w.response.Response, "authData")
	}
	return Continue(), nil
}
