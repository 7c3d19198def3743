package testfiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"testtrack/server/internal/auditlog"
	"testtrack/server/internal/auth"
	"testtrack/server/internal/classifier"
	"testtrack/server/internal/lock"
	"testtrack/server/internal/models"
	"testtrack/server/internal/storage"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxUploadSize caps a single test report
const MaxUploadSize = 5 << 20

// Event types published after successful mutations
const (
	EventUploaded = "test_file.uploaded"
	EventUpdated  = "test_file.updated"
	EventDeleted  = "test_file.deleted"
)

// Publisher receives test file events, typically the websocket hub
type Publisher interface {
	Publish(eventType string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Service runs the ingestion pipeline and the test file lifecycle
type Service struct {
	db       *gorm.DB
	store    *Store
	resolver *Resolver
	audit    *auditlog.Store
	storage  *storage.Storage
	locker   lock.Locker
	events   Publisher
	logger   *zap.Logger
}

// NewService creates a new test file service. events may be nil.
func NewService(db *gorm.DB, st *storage.Storage, locker lock.Locker, events Publisher, logger *zap.Logger) *Service {
	if events == nil {
		events = noopPublisher{}
	}
	return &Service{
		db:       db,
		store:    NewStore(db),
		resolver: NewResolver(db),
		audit:    auditlog.NewStore(db),
		storage:  st,
		locker:   locker,
		events:   events,
		logger:   logger.Named("testfiles"),
	}
}

// UploadInput is a multipart test report upload
type UploadInput struct {
	TestFileID       string // set on the update route, bypasses duplicate rejection
	SprintID         string
	Filename         string // display name, defaults to OriginalFilename
	OriginalFilename string
	ContentType      string
	Size             int64 // size declared by the client, -1 if unknown
	Body             io.Reader
}

// Result is returned by successful ingestion
type Result struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Created  bool   `json:"-"`
}

// Upload validates, classifies and stores an uploaded report
func (s *Service) Upload(ctx context.Context, p auth.Principal, in UploadInput) (*Result, error) {
	isUpdate := in.TestFileID != ""

	// Received
	if err := checkJSONMediaType(in.ContentType); err != nil {
		return nil, err
	}
	if in.Size > MaxUploadSize {
		return nil, invalidf("file exceeds the %d MiB limit", MaxUploadSize>>20)
	}
	if err := checkFilename(in.OriginalFilename); err != nil {
		return nil, err
	}
	if !isUpdate && in.SprintID == "" {
		return nil, invalidf("sprint_id is required")
	}

	staged, err := s.storage.Stage(in.Body, MaxUploadSize)
	if errors.Is(err, storage.ErrTooLarge) {
		return nil, invalidf("file exceeds the %d MiB limit", MaxUploadSize>>20)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	defer s.discard(staged)

	// Validated
	content, err := staged.Read()
	if err != nil {
		return nil, storageErr(err)
	}
	if !gjson.ValidBytes(content) {
		return nil, invalidf("file is not valid JSON")
	}

	action, historyAction := models.ActionUpload, models.HistoryUpload
	if isUpdate {
		historyAction = models.HistoryModify
	}

	return s.ingest(ctx, p, ingestRequest{
		fileID:           in.TestFileID,
		sprintID:         in.SprintID,
		filename:         in.Filename,
		originalFilename: in.OriginalFilename,
		staged:           staged,
		content:          content,
		action:           action,
		historyAction:    historyAction,
	})
}

// CreateInput creates a test file from a JSON body instead of a multipart upload
type CreateInput struct {
	SprintID         string
	Filename         string
	OriginalFilename string // defaults to Filename
	Content          json.RawMessage
}

// Create runs the ingestion pipeline for inline JSON content
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (*Result, error) {
	if in.OriginalFilename == "" {
		in.OriginalFilename = in.Filename
	}
	if err := checkFilename(in.OriginalFilename); err != nil {
		return nil, err
	}
	if in.SprintID == "" {
		return nil, invalidf("sprint_id is required")
	}
	if len(in.Content) == 0 || !gjson.ValidBytes(in.Content) {
		return nil, invalidf("content is not valid JSON")
	}

	staged, err := s.storage.Stage(bytes.NewReader(in.Content), MaxUploadSize)
	if errors.Is(err, storage.ErrTooLarge) {
		return nil, invalidf("content exceeds the %d MiB limit", MaxUploadSize>>20)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	defer s.discard(staged)

	return s.ingest(ctx, p, ingestRequest{
		sprintID:         in.SprintID,
		filename:         in.Filename,
		originalFilename: in.OriginalFilename,
		staged:           staged,
		content:          in.Content,
		action:           models.ActionCreate,
		historyAction:    models.HistoryCreate,
	})
}

type ingestRequest struct {
	fileID           string
	sprintID         string
	filename         string
	originalFilename string
	staged           *storage.Staged
	content          []byte
	action           string
	historyAction    string
}

// ingest covers Classified through Finalized for a validated, staged report
func (s *Service) ingest(ctx context.Context, p auth.Principal, req ingestRequest) (*Result, error) {
	isUpdate := req.fileID != ""

	// Classified
	verdict := classifier.Classify(req.content)

	var existing *models.TestFile
	if isUpdate {
		var err error
		if existing, err = s.store.Get(ctx, req.fileID); err != nil {
			return nil, err
		}
		if req.sprintID == "" {
			req.sprintID = existing.SprintID
		}
	}
	if _, err := s.store.FindSprint(ctx, req.sprintID); err != nil {
		return nil, err
	}

	// Resolved
	res, err := s.resolver.Resolve(ctx, req.originalFilename, req.sprintID, isUpdate)
	if err != nil {
		return nil, err
	}
	if res.Outcome != Allow {
		return nil, newConflict(req.originalFilename, res)
	}

	// Persisted
	now := time.Now()
	var file *models.TestFile
	var previousBlob string
	if isUpdate {
		file = existing
		file.Sprint = nil
		previousBlob = file.OriginalFilename
		if req.filename != "" {
			file.Filename = req.filename
		}
	} else {
		file = &models.TestFile{
			ID:         uuid.New().String(),
			Filename:   req.filename,
			UploadDate: now,
		}
		if file.Filename == "" {
			file.Filename = req.originalFilename
		}
	}
	file.OriginalFilename = req.originalFilename
	file.SprintID = req.sprintID
	file.FileSize = req.staged.Size
	file.Content = string(req.content)
	file.Status = string(verdict)
	file.LastModified = now
	file.LastModifiedBy = p.Name

	snapshot := models.JSONMap{
		"filename":          file.Filename,
		"original_filename": file.OriginalFilename,
		"sprint_id":         file.SprintID,
		"file_size":         file.FileSize,
		"status":            file.Status,
		"sha256":            req.staged.Hash,
	}

	var retired string
	if previousBlob != file.OriginalFilename {
		retired = previousBlob
	}

	err = s.commit(ctx, req.originalFilename, req.staged, retired, func(tx *gorm.DB) error {
		// Re-check under the lock. The unique index backs this up where the
		// dialect supports partial indexes.
		res, err := NewResolver(tx).check(ctx, req.originalFilename, req.sprintID, req.fileID)
		if err != nil {
			return err
		}
		if res.Outcome != Allow {
			return newConflict(req.originalFilename, res)
		}

		store := s.store.WithTx(tx)
		if isUpdate {
			if err := store.Save(ctx, file); err != nil {
				return err
			}
		} else if err := store.Create(ctx, file); err != nil {
			return err
		}
		if err := store.AppendHistory(ctx, file.ID, req.historyAction, p.Name, snapshot); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, p, req.action, file.TableName(), file.ID, snapshot)
	})
	if errors.Is(err, errDuplicateKey) {
		return nil, s.conflictAfterRace(ctx, req.originalFilename, req.sprintID, req.fileID)
	}
	if err != nil {
		return nil, err
	}

	// Finalized
	result := &Result{FileID: file.ID, Filename: file.Filename, Status: file.Status, Created: !isUpdate}
	event := EventUploaded
	if isUpdate {
		event = EventUpdated
	}
	s.events.Publish(event, result)
	s.logger.Info("test file ingested",
		zap.String("file_id", file.ID),
		zap.String("original_filename", file.OriginalFilename),
		zap.String("sprint_id", file.SprintID),
		zap.String("status", file.Status),
		zap.String("user", p.Name),
		zap.Bool("update", isUpdate),
	)

	return result, nil
}

// commit runs write in one transaction under the blob's lock. When staged is
// set it is promoted to blobName as the last step of the transaction and the
// promotion is undone if the transaction does not commit. A non-empty retired
// blob is locked as well and removed once the transaction has committed, before
// either lock is released.
func (s *Service) commit(ctx context.Context, blobName string, staged *storage.Staged, retired string, write func(tx *gorm.DB) error) error {
	unlock, err := lock.LockAll(ctx, s.locker, blobName, retired)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", blobName, err)
	}
	defer unlock()

	var promotion *storage.Promotion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := write(tx); err != nil {
			return err
		}
		if staged == nil {
			return nil
		}
		p, err := s.storage.Promote(staged, blobName)
		if err != nil {
			return storageErr(err)
		}
		promotion = p
		return nil
	})
	if err != nil {
		if rbErr := promotion.Rollback(); rbErr != nil {
			s.logger.Error("failed to roll back blob promotion", zap.String("blob", blobName), zap.Error(rbErr))
		}
		return err
	}

	if err := promotion.Commit(); err != nil {
		s.logger.Warn("failed to drop blob backup", zap.String("blob", blobName), zap.Error(err))
	}
	if retired != "" && retired != blobName {
		if err := s.storage.Remove(retired); err != nil {
			s.logger.Warn("failed to remove replaced blob", zap.String("blob", retired), zap.Error(err))
		}
	}
	return nil
}

// conflictAfterRace explains a unique violation that slipped past the resolver
func (s *Service) conflictAfterRace(ctx context.Context, name, sprintID, excludeID string) error {
	res, err := s.resolver.check(ctx, name, sprintID, excludeID)
	if err != nil {
		return err
	}
	if res.Outcome == Allow {
		// the competing row vanished again; report it against the target sprint
		res.Outcome = RejectSameSprint
	}
	return newConflict(name, res)
}

func (s *Service) discard(staged *storage.Staged) {
	if err := s.storage.Discard(staged); err != nil {
		s.logger.Warn("failed to discard staged upload", zap.String("path", staged.Path), zap.Error(err))
	}
}

// UpdateInput changes a test file without a new upload. Nil fields are left alone.
type UpdateInput struct {
	Filename *string
	SprintID *string
	Status   *string
	Content  json.RawMessage
}

// Update applies in to a test file. Without an explicit status the status is
// recomputed from the new content, or from the stored content if there is none.
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in UpdateInput) (*models.TestFile, error) {
	file, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	file.Sprint = nil

	if in.Status != nil && !isEditableStatus(*in.Status) {
		return nil, invalidf("status must be one of %s, %s or %s", models.StatusPending, models.StatusPass, models.StatusFail)
	}
	if in.Filename != nil && strings.TrimSpace(*in.Filename) == "" {
		return nil, invalidf("filename cannot be empty")
	}
	if in.SprintID != nil && *in.SprintID != file.SprintID {
		if _, err := s.store.FindSprint(ctx, *in.SprintID); err != nil {
			return nil, err
		}
	}

	var staged *storage.Staged
	if in.Content != nil {
		if !gjson.ValidBytes(in.Content) {
			return nil, invalidf("content is not valid JSON")
		}
		staged, err = s.storage.Stage(bytes.NewReader(in.Content), MaxUploadSize)
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, invalidf("content exceeds the %d MiB limit", MaxUploadSize>>20)
		}
		if err != nil {
			return nil, storageErr(err)
		}
		defer s.discard(staged)
	}

	changes := models.JSONMap{}
	track := func(field string, from, to interface{}) {
		if from != to {
			changes[field] = map[string]interface{}{"from": from, "to": to}
		}
	}

	if in.Filename != nil {
		track("filename", file.Filename, *in.Filename)
		file.Filename = *in.Filename
	}
	if in.SprintID != nil {
		track("sprint_id", file.SprintID, *in.SprintID)
		file.SprintID = *in.SprintID
	}
	if staged != nil {
		track("file_size", file.FileSize, staged.Size)
		file.Content = string(in.Content)
		file.FileSize = staged.Size
		changes["content"] = "replaced"
	}

	newStatus := file.Status
	switch {
	case in.Status != nil:
		newStatus = *in.Status
	case file.Content != "":
		newStatus = string(classifier.Classify([]byte(file.Content)))
	}
	track("status", file.Status, newStatus)
	file.Status = newStatus
	file.LastModified = time.Now()
	file.LastModifiedBy = p.Name

	details := models.JSONMap{"changes": changes}
	err = s.commit(ctx, file.OriginalFilename, staged, "", func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		if err := store.Save(ctx, file); err != nil {
			return err
		}
		if err := store.AppendHistory(ctx, file.ID, models.HistoryModify, p.Name, details); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, p, models.ActionUpdate, file.TableName(), file.ID, details)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(EventUpdated, Result{FileID: file.ID, Filename: file.Filename, Status: file.Status})
	s.logger.Info("test file updated", zap.String("file_id", file.ID), zap.String("user", p.Name), zap.Int("changes", len(changes)))

	return s.store.Get(ctx, file.ID)
}

// Delete soft-deletes a test file and removes its blob
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	file, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	file.Sprint = nil

	previous := file.Status
	file.Status = models.StatusDeleted
	file.LastModified = time.Now()
	file.LastModifiedBy = p.Name

	details := models.JSONMap{
		"filename":          file.Filename,
		"original_filename": file.OriginalFilename,
		"sprint_id":         file.SprintID,
		"previous_status":   previous,
	}

	// The blob is removed while the lock is held so a re-upload of the same
	// name cannot be promoted in between.
	err = s.commit(ctx, file.OriginalFilename, nil, "", func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		if err := store.Save(ctx, file); err != nil {
			return err
		}
		if err := store.AppendHistory(ctx, file.ID, models.HistoryDelete, p.Name, details); err != nil {
			return err
		}
		if err := s.audit.WithTx(tx).Record(ctx, p, models.ActionDelete, file.TableName(), file.ID, details); err != nil {
			return err
		}
		if err := s.storage.Remove(file.OriginalFilename); err != nil {
			s.logger.Warn("failed to remove blob of deleted test file", zap.String("file_id", file.ID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(EventDeleted, Result{FileID: file.ID, Filename: file.Filename, Status: file.Status})
	s.logger.Info("test file deleted", zap.String("file_id", file.ID), zap.String("user", p.Name))
	return nil
}

// Get returns an active test file
func (s *Service) Get(ctx context.Context, id string) (*models.TestFile, error) {
	return s.store.Get(ctx, id)
}

// List returns active test files matching f
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.TestFile, int64, error) {
	return s.store.List(ctx, f)
}

// Stats summarises active test files in a sprint or project
func (s *Service) Stats(ctx context.Context, f ListFilter) (*Stats, error) {
	return s.store.Stats(ctx, f)
}

// Content returns the stored JSON report, read from the blob when the row has none
func (s *Service) Content(ctx context.Context, id string) ([]byte, error) {
	file, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.Content != "" {
		return []byte(file.Content), nil
	}

	data, err := s.storage.Read(file.OriginalFilename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound("content of test file", id)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return data, nil
}

// History returns the history of a test file, including deleted ones
func (s *Service) History(ctx context.Context, id string) ([]models.TestFileHistory, error) {
	ok, err := s.store.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test file", id)
	}
	return s.store.History(ctx, id)
}

func isEditableStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusPass, models.StatusFail:
		return true
	}
	return false
}

func checkJSONMediaType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return invalidf("only JSON files are allowed, got %q", contentType)
	}
	return nil
}

func checkFilename(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return invalidf("filename is required")
	}
	if trimmed != name || filepath.Base(name) != name || name == "." || name == ".." {
		return invalidf("invalid filename %q", name)
	}
	return nil
}
