package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
	"github.com/lordvitaly/lvchat/pkg/logger"
)

var blobIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// DocumentService stores opaque JSON documents under generated ids. It backs
// both session bootstrap data and the generic blob endpoints.
type DocumentService struct {
	ns            *store.Namespace
	label         string
	requireObject bool
	validateID    func(string) error
	subject       func(id string) string
}

// NewSessionService stores init payloads. Payloads must be JSON objects and
// ids must be UUIDs.
func NewSessionService(ns *store.Namespace) (*DocumentService, error) {
	if ns == nil {
		return nil, errors.New("session service: namespace is required")
	}
	return &DocumentService{
		ns:            ns,
		label:         "Session",
		requireObject: true,
		validateID: func(id string) error {
			if _, err := uuid.Parse(id); err != nil {
				return apperrors.NewBadRequest("Invalid session ID")
			}
			return nil
		},
		subject: func(string) string { return "Session" },
	}, nil
}

// NewBlobService stores arbitrary JSON documents.
func NewBlobService(ns *store.Namespace) (*DocumentService, error) {
	if ns == nil {
		return nil, errors.New("blob service: namespace is required")
	}
	return &DocumentService{
		ns:    ns,
		label: "Data",
		validateID: func(id string) error {
			if !blobIDPattern.MatchString(id) {
				return apperrors.NewBadRequest("Data ID not provided")
			}
			return nil
		},
		subject: func(id string) string { return fmt.Sprintf("Data with ID %s", id) },
	}, nil
}

// Create stores payload under a fresh id and returns the id with the stored record.
func (s *DocumentService) Create(ctx context.Context, payload []byte) (string, store.Record, error) {
	ctx = ensureContext(ctx)

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return "", store.Record{}, apperrors.NewBadRequest("Request body must be valid JSON")
	}
	if s.requireObject && trimmed[0] != '{' {
		return "", store.Record{}, apperrors.NewBadRequest("Request body must be a JSON object")
	}

	id := store.NewKey()
	rec, err := s.ns.Put(ctx, id, trimmed)
	if err != nil {
		return "", store.Record{}, translateStoreError(err, s.label)
	}

	logger.WithNamespace("services", s.ns.Name()).Debug("document stored", zap.String("id", id))
	return id, rec, nil
}

// Get returns the stored document.
func (s *DocumentService) Get(ctx context.Context, id string) (json.RawMessage, error) {
	ctx = ensureContext(ctx)
	if err := s.validateID(id); err != nil {
		return nil, err
	}

	rec, err := s.ns.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, s.subject(id))
	}
	return rec.Value, nil
}
