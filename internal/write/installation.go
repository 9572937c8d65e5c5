package write

import (
	"context"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// handleInstallation deduplicates _Installation rows by objectId,
// installationId and deviceToken. A create that matches an existing
// installation becomes an update of it.
func (w *Write) handleInstallation(ctx context.Context) (Outcome, error) {
	if w.className != ir.ClassInstallation {
		return Continue(), nil
	}
	deviceToken, _ := w.data["deviceToken"].(string)
	dataInstallationID, _ := w.data["installationId"].(string)
	deviceType, _ := w.data["deviceType"].(string)

	if !w.isUpdate() && deviceToken == "" && dataInstallationID == "" && w.auth.InstallationID == "" {
		return Continue(), apierr.New(apierr.MissingRequiredField,
			"at least one ID field (deviceToken, installationId) must be specified in this operation")
	}

	// 64 character tokens are APNs tokens, which are case-insensitive.
	if len(deviceToken) == 64 {
		deviceToken = strings.ToLower(deviceToken)
		w.data["deviceToken"] = deviceToken
	}
	if dataInstallationID != "" {
		dataInstallationID = strings.ToLower(dataInstallationID)
		w.data["installationId"] = dataInstallationID
	}
	installationID := dataInstallationID
	if installationID == "" && !w.auth.IsMaster {
		installationID = strings.ToLower(w.auth.InstallationID)
		if installationID != "" && !w.isUpdate() {
			w.data["installationId"] = installationID
		}
	}

	if w.isUpdate() && deviceToken == "" && installationID == "" && deviceType == "" {
		return Continue(), nil
	}

	var or []any
	if w.queryID != "" {
		or = append(or, ir.Object{ir.FieldObjectID: w.queryID})
	}
	if installationID != "" {
		or = append(or, ir.Object{"installationId": installationID})
	}
	if deviceToken != "" {
		or = append(or, ir.Object{"deviceToken": deviceToken})
	}
	if len(or) == 0 {
		return Continue(), nil
	}
	found, err := w.rt.Storage.Find(ctx, ir.ClassInstallation, ir.Object{"$or": or}, storage.FindOptions{})
	if err != nil {
		return Continue(), err
	}

	var objectIDMatch, installationIDMatch ir.Object
	var deviceTokenMatches []ir.Object
	for _, row := range found.Results {
		if w.queryID != "" && ir.ObjectID(row) == w.queryID {
			objectIDMatch = row
		}
		if installationID != "" && row["installationId"] == installationID {
			installationIDMatch = row
		}
		if deviceToken != "" && row["deviceToken"] == deviceToken {
			deviceTokenMatches = append(deviceTokenMatches, row)
		}
	}

	if w.queryID != "" {
		if objectIDMatch == nil {
			return Continue(), apierr.New(apierr.ObjectNotFound, "Object not found for update.")
		}
		matchInstallationID, _ := objectIDMatch["installationId"].(string)
		matchDeviceToken, _ := objectIDMatch["deviceToken"].(string)
		if dataInstallationID != "" && matchInstallationID != "" && dataInstallationID != matchInstallationID {
			return Continue(), apierr.New(apierr.ChangedImmutableField, "installationId may not be changed in this operation")
		}
		if deviceToken != "" && matchDeviceToken != "" && deviceToken != matchDeviceToken &&
			dataInstallationID == "" && matchInstallationID == "" {
			return Continue(), apierr.New(apierr.ChangedImmutableField, "deviceToken may not be changed in this operation")
		}
		if deviceType != "" && deviceType != objectIDMatch["deviceType"] {
			return Continue(), apierr.New(apierr.ChangedImmutableField, "deviceType may not be changed in this operation")
		}
	}

	var idMatch ir.Object
	if objectIDMatch != nil {
		idMatch = objectIDMatch
	}
	if installationIDMatch != nil {
		idMatch = installationIDMatch
	}
	if !w.isUpdate() && deviceType == "" && idMatch == nil {
		return Continue(), apierr.New(apierr.MissingRequiredField, "deviceType must be specified in this operation")
	}

	target, err := w.resolveInstallation(ctx, idMatch, deviceTokenMatches, installationID, deviceToken, dataInstallationID)
	if err != nil {
		return Continue(), err
	}
	if target != nil {
		w.query = ir.Object{ir.FieldObjectID: ir.ObjectID(target)}
		w.queryID = ir.ObjectID(target)
		w.originalData = ir.CloneObject(target)
		delete(w.data, ir.FieldObjectID)
		delete(w.data, ir.FieldCreatedAt)
	}
	return Continue(), nil
}

// resolveInstallation picks the row the write should update, or nil to
// create a new one. Rows superseded by the write are destroyed.
func (w *Write) resolveInstallation(ctx context.Context, idMatch ir.Object, deviceTokenMatches []ir.Object,
	installationID, deviceToken, dataInstallationID string) (ir.Object, error) {
	appIdentifier, _ := w.data["appIdentifier"].(string)

	if idMatch == nil {
		switch {
		case len(deviceTokenMatches) == 0:
			return nil, nil
		case len(deviceTokenMatches) == 1 && (deviceTokenMatches[0]["installationId"] == nil || installationID == ""):
			return deviceTokenMatches[0], nil
		case dataInstallationID == "":
			return nil, apierr.New(apierr.InvalidInstallation,
				"Must specify installationId when deviceToken matches multiple Installation objects")
		}
		del := ir.Object{"deviceToken": deviceToken, "installationId": ir.Object{"$ne": installationID}}
		if appIdentifier != "" {
			del["appIdentifier"] = appIdentifier
		}
		return nil, w.destroyInstallations(ctx, del)
	}

	if len(deviceTokenMatches) == 1 && deviceTokenMatches[0]["installationId"] == nil {
		// The token row has no installationId; merge into it.
		if ir.ObjectID(deviceTokenMatches[0]) == ir.ObjectID(idMatch) {
			return idMatch, nil
		}
		if err := w.destroyInstallations(ctx, ir.Object{ir.FieldObjectID: ir.ObjectID(idMatch)}); err != nil {
			return nil, err
		}
		return deviceTokenMatches[0], nil
	}

	if deviceToken != "" && idMatch["deviceToken"] != deviceToken {
		del := ir.Object{"deviceToken": deviceToken}
		switch {
		case dataInstallationID != "":
			del["installationId"] = ir.Object{"$ne": dataInstallationID}
		case w.data[ir.FieldObjectID] != nil && w.data[ir.FieldObjectID] == ir.ObjectID(idMatch):
			del[ir.FieldObjectID] = ir.Object{"$ne": ir.ObjectID(idMatch)}
		default:
			return idMatch, nil
		}
		if appIdentifier != "" {
			del["appIdentifier"] = appIdentifier
		}
		if err := w.destroyInstallations(ctx, del); err != nil {
			return nil, err
		}
	}
	return idMatch, nil
}

func (w *Write) destroyInstallations(ctx context.Context, where ir.Object) error {
	err := w.rt.Storage.Destroy(ctx, ir.ClassInstallation, where, storage.WriteOptions{Many: true})
	if err != nil && !apierr.IsNotFound(err) {
		return err
	}
	return nil
}
