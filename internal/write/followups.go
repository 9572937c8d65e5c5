package write

import (
	"context"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// followup is an action run after the row is persisted.
type followup int

const (
	followupClearSessions followup = iota + 1
	followupGenerateSession
	followupSendVerificationEmail
)

func (f followup) String() string {
	switch f {
	case followupClearSessions:
		return "clear_sessions"
	case followupGenerateSession:
		return "generate_session"
	case followupSendVerificationEmail:
		return "send_verification_email"
	}
	return "unknown"
}

// queue schedules f unless it is already pending.
func (w *Write) queue(f followup) {
	for _, pending := range w.followups {
		if pending == f {
			return
		}
	}
	w.followups = append(w.followups, f)
}

// handleFollowups drains the follow-up queue in order. Actions may queue
// further actions; draining stops with an error after MaxFollowups runs.
func (w *Write) handleFollowups(ctx context.Context) (Outcome, error) {
	limit := w.rt.Config.MaxFollowups
	for ran := 0; len(w.followups) > 0; ran++ {
		if limit > 0 && ran >= limit {
			return Continue(), apierr.New(apierr.InternalServerError,
				"write follow-up actions exceeded %d runs", limit)
		}
		f := w.followups[0]
		w.followups = w.followups[1:]
		if err := w.runFollowup(ctx, f); err != nil {
			return Continue(), err
		}
	}
	return Continue(), nil
}

func (w *Write) runFollowup(ctx context.Context, f followup) error {
	w.rt.Logger.Debug("write follow-up", "class_name", w.className, "object_id", w.objectID(), "action", f.String())
	switch f {
	case followupClearSessions:
		if !w.rt.Config.RevokeSessionOnPasswordReset {
			return nil
		}
		where := ir.Object{"user": ir.NewPointer(ir.ClassUser, w.objectID())}
		err := w.rt.Storage.Destroy(ctx, ir.ClassSession, where, storage.WriteOptions{Many: true})
		if err != nil && !apierr.IsNotFound(err) {
			return err
		}
	case followupGenerateSession:
		return w.createSessionToken(ctx)
	case followupSendVerificationEmail:
		user := ir.CloneObject(w.stored)
		if user == nil {
			user = ir.CloneObject(w.data)
		}
		users := w.rt.Users
		w.rt.Go("send_verification_email", func(ctx context.Context) error {
			return users.SendVerificationEmail(ctx, user)
		})
	}
	return nil
}
