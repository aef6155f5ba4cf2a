package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/bankdesk/internal/types"
)

// ErrArtifactNotFound is returned when no artifact has the requested ID.
var ErrArtifactNotFound = errors.New("artifact not found")

// artifactWrapper is the on-disk format for artifact files.
// Each artifact is stored as {"meta": ..., "data": ...}.
type artifactWrapper struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data json.RawMessage     `json:"data"`
}

// ArtifactStore stores artifacts as individual JSON files per artifact.
// Files are located at sessions/<sessionID>/artifacts/<artifactID>.json.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a new file-backed ArtifactStore rooted at the given directory.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) artifactsDir(sessionID types.SessionID) string {
	return filepath.Join(a.root, "sessions", string(sessionID), "artifacts")
}

func (a *ArtifactStore) artifactPath(sessionID types.SessionID, artifactID types.ArtifactID) string {
	return filepath.Join(a.artifactsDir(sessionID), string(artifactID)+".json")
}

// findArtifact locates an artifact file by ID using filepath.Glob across all sessions.
func (a *ArtifactStore) findArtifact(id types.ArtifactID) (string, error) {
	pattern := filepath.Join(a.root, "sessions", "*", "artifacts", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	return matches[0], nil
}

// readWrapper reads and parses an artifact file.
func (a *ArtifactStore) readWrapper(path string) (*artifactWrapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}

	var wrapper artifactWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &wrapper, nil
}

// Put stores an artifact produced by a pipeline stage and returns its ID.
func (a *ArtifactStore) Put(_ context.Context, sessionID types.SessionID, runID types.RunID, stage string, data any) (types.ArtifactID, error) {
	id := types.NewArtifactID()

	meta := &types.ArtifactMeta{
		ID:        id,
		SessionID: sessionID,
		RunID:     runID,
		Stage:     stage,
		MimeType:  "application/json",
		CreatedAt: time.Now(),
	}

	// Marshal the data to json.RawMessage
	rawData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal artifact data: %w", err)
	}

	wrapper := &artifactWrapper{
		Meta: meta,
		Data: json.RawMessage(rawData),
	}

	content, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact wrapper: %w", err)
	}

	// Ensure directory exists
	dir := a.artifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	if err := writeFileAtomic(a.artifactPath(sessionID, id), content); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	return id, nil
}

// Get returns the raw data for the given artifact.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (json.RawMessage, error) {
	path, err := a.findArtifact(id)
	if err != nil {
		return nil, err
	}

	wrapper, err := a.readWrapper(path)
	if err != nil {
		return nil, err
	}

	return wrapper.Data, nil
}

// GetMeta returns the metadata for the given artifact.
func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	path, err := a.findArtifact(id)
	if err != nil {
		return nil, err
	}

	wrapper, err := a.readWrapper(path)
	if err != nil {
		return nil, err
	}

	return wrapper.Meta, nil
}

// Purge removes every artifact stored for the session.
func (a *ArtifactStore) Purge(_ context.Context, sessionID types.SessionID) error {
	if err := os.RemoveAll(a.artifactsDir(sessionID)); err != nil {
		return fmt.Errorf("remove artifacts dir: %w", err)
	}
	return nil
}
