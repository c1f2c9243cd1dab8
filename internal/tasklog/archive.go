package tasklog

import (
	"fmt"

	"github.com/dohr-michael/swarm/internal/storage/dirstore"
)

const transcriptFile = "transcript.log"

// Archive stores settled task transcripts on disk so logs survive restarts
// and buffer cleanup.
type Archive struct {
	store *dirstore.DirStore
}

// NewArchive creates an archive rooted at dir (one subdirectory per task).
func NewArchive(dir string) *Archive {
	return &Archive{store: dirstore.New(dir, "transcript")}
}

// Save writes the transcript for a task, replacing any previous one.
func (a *Archive) Save(taskID, transcript string) error {
	a.store.Lock()
	defer a.store.Unlock()

	if err := a.store.EnsureDir(taskID); err != nil {
		return err
	}
	if err := a.store.WriteFileAtomic(taskID, transcriptFile, []byte(transcript)); err != nil {
		return fmt.Errorf("archive transcript %s: %w", taskID, err)
	}
	return nil
}

// Load returns the archived transcript and whether one exists.
func (a *Archive) Load(taskID string) (string, bool, error) {
	a.store.RLock()
	defer a.store.RUnlock()

	data, err := a.store.ReadFileContent(taskID, transcriptFile)
	if err != nil {
		return "", false, err
	}
	if data == nil {
		return "", false, nil
	}
	return string(data), true, nil
}

// Delete removes the archived transcript.
func (a *Archive) Delete(taskID string) error {
	a.store.Lock()
	defer a.store.Unlock()
	return a.store.RemoveDir(taskID)
}
