package store

import "time"

// User is an identity-provider record. Profiles are separate: a profile row may
// lag user creation, and callers must treat that gap as "no profile yet".
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Profile struct {
	ID                string // equals the owning user's ID
	Email             string
	DisplayName       string
	Membership        string // "free" or "pro"
	StorageUsedBytes  int64
	StorageLimitBytes int64
	ProfessionalIDs   []string
	ChildIDs          []string
	CreatedAt         time.Time
}

type Child struct {
	ID              string
	Name            string
	ParentID        string
	ProfessionalIDs []string
	CreatedAt       time.Time
}

type BehaviorEntry struct {
	ID         string
	ChildID    string
	ParentID   string
	Date       time.Time
	Emotion    string
	Trigger    string
	Resolution string
	CreatedAt  time.Time
}

type DocumentMeta struct {
	ID          string
	ChildID     string
	OwnerID     string
	Name        string
	StoragePath string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

// Emotions is the fixed set a behavior entry may carry.
var Emotions = []string{"Happy", "Sad", "Angry", "Anxious", "Calm", "Frustrated", "Excited", "Scared"}

func ValidEmotion(emotion string) bool {
	for _, e := range Emotions {
		if e == emotion {
			return true
		}
	}
	return false
}
