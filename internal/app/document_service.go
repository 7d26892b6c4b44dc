package app

import (
	"encoding/json"
	"errors"
	"strings"

	"kbring/internal/model"
	"kbring/internal/pkg/chunker"
	"kbring/internal/repository"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrJobNotFound      = errors.New("job not found")
)

const maxBodyBytes = 4 << 20 // longtext holds more, but ingest stays bounded

// DocumentService handles ingest and the job-facing read surface. Indexing
// itself happens in the worker; ingest only records the document and queues
// the job.
type DocumentService struct {
	docRepo *repository.DocumentRepository
	jobRepo *repository.JobRepository
}

func NewDocumentService(docRepo *repository.DocumentRepository, jobRepo *repository.JobRepository) *DocumentService {
	return &DocumentService{docRepo: docRepo, jobRepo: jobRepo}
}

type IngestInput struct {
	UserID    uint
	Title     string
	Body      string
	Source    string
	SourceRef string
	URI       string
	DocType   string
	Meta      map[string]string
}

type IngestResult struct {
	DocumentID uint   `json:"document_id"`
	JobID      uint   `json:"job_id"`
	ContentSHA string `json:"content_sha256"`
}

// Ingest stores the document and its index job atomically. The caller gets
// back ids to poll; chunking and embedding happen asynchronously.
func (s *DocumentService) Ingest(input IngestInput) (*IngestResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	body := strings.TrimSpace(input.Body)
	if body == "" || len(body) > maxBodyBytes {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = "api"
	}

	meta := ""
	if len(input.Meta) > 0 {
		b, err := json.Marshal(input.Meta)
		if err != nil {
			return nil, ErrInvalidInput
		}
		meta = string(b)
	}

	doc := &model.Document{
		UserID:     input.UserID,
		Source:     source,
		SourceRef:  strings.TrimSpace(input.SourceRef),
		URI:        strings.TrimSpace(input.URI),
		DocType:    strings.TrimSpace(input.DocType),
		Title:      title,
		Body:       body,
		ContentSHA: chunker.SHA256Hex(body),
		Meta:       meta,
	}
	job := &model.Job{
		UserID: input.UserID,
		Kind:   model.JobKindIndexDocument,
		Status: model.JobStatusQueued,
	}
	if err := s.docRepo.CreateWithJob(doc, job); err != nil {
		return nil, err
	}

	return &IngestResult{
		DocumentID: doc.ID,
		JobID:      job.ID,
		ContentSHA: doc.ContentSHA,
	}, nil
}

func (s *DocumentService) ListDocuments(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(userID)
}

func (s *DocumentService) GetDocument(userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) DeleteDocument(userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	return s.docRepo.DeleteByIDAndUserID(documentID, userID)
}

func (s *DocumentService) GetJob(userID, jobID uint) (*model.Job, error) {
	if userID == 0 || jobID == 0 {
		return nil, ErrInvalidInput
	}
	job, err := s.jobRepo.GetByIDAndUserID(jobID, userID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *DocumentService) ListJobs(userID uint, limit int) ([]model.Job, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.jobRepo.ListByUserID(userID, limit)
}
