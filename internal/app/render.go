package app

import "brightnest/api/internal/store"

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"displayName":  session.DisplayName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func profilePayload(profile store.Profile) map[string]any {
	return map[string]any{
		"id":                profile.ID,
		"email":             profile.Email,
		"displayName":       profile.DisplayName,
		"membership":        profile.Membership,
		"storageUsedBytes":  profile.StorageUsedBytes,
		"storageLimitBytes": profile.StorageLimitBytes,
		"professionalIds":   nonNilStrings(profile.ProfessionalIDs),
		"childIds":          nonNilStrings(profile.ChildIDs),
	}
}

func childPayload(child store.Child) map[string]any {
	return map[string]any{
		"id":              child.ID,
		"name":            child.Name,
		"parentId":        child.ParentID,
		"professionalIds": nonNilStrings(child.ProfessionalIDs),
		"createdAt":       child.CreatedAt,
	}
}

func entryPayload(entry store.BehaviorEntry) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"childId":    entry.ChildID,
		"date":       entry.Date.Format("2006-01-02"),
		"emotion":    entry.Emotion,
		"trigger":    entry.Trigger,
		"resolution": entry.Resolution,
		"createdAt":  entry.CreatedAt,
	}
}

func documentPayload(doc store.DocumentMeta) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"childId":     doc.ChildID,
		"name":        doc.Name,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"uploadedAt":  doc.UploadedAt,
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
