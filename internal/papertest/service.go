// Package papertest provides an in-memory document service for tests.
package papertest

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
)

// Service is a thread-safe fake of the document service. Tag names are
// unique case-insensitively, as in Paperless-ngx.
type Service struct {
	mu        sync.Mutex
	docs      map[int]documents.Document
	tags      map[int]documents.Tag
	nextTagID int

	creates int
	updates int
	calls   map[string]int
	errs    map[string]error

	// BeforeCreate runs before a tag is created, outside the lock.
	BeforeCreate func(name string)
}

// New returns an empty service.
func New() *Service {
	return &Service{
		docs:      map[int]documents.Document{},
		tags:      map[int]documents.Tag{},
		nextTagID: 1,
		calls:     map[string]int{},
		errs:      map[string]error{},
	}
}

// AddTag stores a tag and returns its id.
func (s *Service) AddTag(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTagID
	s.nextTagID++
	s.tags[id] = documents.Tag{ID: id, Name: name}
	return id
}

// AddDocument stores a document snapshot.
func (s *Service) AddDocument(doc documents.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.Tags = slices.Clone(doc.Tags)
	s.docs[doc.ID] = doc
}

// SetOwner changes the owner of a stored document.
func (s *Service) SetOwner(id int, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.Owner = owner
	s.docs[id] = doc
}

// DeleteDocument removes a document.
func (s *Service) DeleteDocument(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// Fail makes every later call to op return err; a nil err clears it.
func (s *Service) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Document returns the stored document.
func (s *Service) Document(id int) documents.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.Tags = slices.Clone(doc.Tags)
	return doc
}

// TagNames returns the names of a stored document's tags, sorted.
func (s *Service) TagNames(id int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, tagID := range s.docs[id].Tags {
		names = append(names, s.tags[tagID].Name)
	}
	sort.Strings(names)
	return names
}

// TagID returns the id of the tag with exactly this name, or 0.
func (s *Service) TagID(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tag := range s.tags {
		if tag.Name == name {
			return id
		}
	}
	return 0
}

// Creates returns how many tags were created through CreateTag.
func (s *Service) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Updates returns how many document tag updates were applied.
func (s *Service) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Calls returns how many times op was called.
func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Service) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.errs[op]
}

// GetDocument implements the reconciler service.
func (s *Service) GetDocument(_ context.Context, id int) (*documents.Document, error) {
	if err := s.enter("GetDocument"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, errors.NewNotFoundError("document", strconv.Itoa(id))
	}
	doc.Tags = slices.Clone(doc.Tags)
	return &doc, nil
}

// UpdateDocumentTags implements the reconciler service.
func (s *Service) UpdateDocumentTags(_ context.Context, id int, tags []int) error {
	if err := s.enter("UpdateDocumentTags"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return errors.NewNotFoundError("document", strconv.Itoa(id))
	}
	doc.Tags = slices.Clone(tags)
	s.docs[id] = doc
	s.updates++
	return nil
}

// ListDocumentIDs implements the sweep lister.
func (s *Service) ListDocumentIDs(_ context.Context) ([]int, error) {
	if err := s.enter("ListDocumentIDs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// FindTags implements the tag directory service.
func (s *Service) FindTags(_ context.Context, name string) ([]documents.Tag, error) {
	if err := s.enter("FindTags"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []documents.Tag
	for _, tag := range s.tags {
		if strings.EqualFold(tag.Name, name) {
			out = append(out, tag)
		}
	}
	return out, nil
}

// GetTags implements the tag directory service.
func (s *Service) GetTags(_ context.Context, ids []int) ([]documents.Tag, error) {
	if err := s.enter("GetTags"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []documents.Tag
	for _, id := range ids {
		if tag, ok := s.tags[id]; ok {
			out = append(out, tag)
		}
	}
	return out, nil
}

// CreateTag implements the tag directory service.
func (s *Service) CreateTag(_ context.Context, name string) (documents.Tag, error) {
	if err := s.enter("CreateTag"); err != nil {
		return documents.Tag{}, err
	}
	if s.BeforeCreate != nil {
		s.BeforeCreate(name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range s.tags {
		if strings.EqualFold(tag.Name, name) {
			return documents.Tag{}, errors.NewAlreadyExistsError("tag", name)
		}
	}
	tag := documents.Tag{ID: s.nextTagID, Name: name}
	s.nextTagID++
	s.tags[tag.ID] = tag
	s.creates++
	return tag, nil
}
