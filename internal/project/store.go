package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkarpov/certmail/internal/sender"
)

var (
	ErrNotFound      = errors.New("project not found")
	ErrRunInProgress = errors.New("a send run is already in progress")
	ErrStepBackward  = errors.New("cannot move a project to an earlier step")
)

// Store holds projects in memory. Nothing survives a restart; the
// server is a single-operator tool and each campaign is rebuilt from
// its source spreadsheet.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewStore creates an empty project store
func NewStore() *Store {
	return &Store{projects: make(map[string]*Project)}
}

// Create adds a new project at the import step
func (s *Store) Create(name string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		Step:      StepImport,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.projects[p.ID] = p
	return p.clone()
}

// Get returns a snapshot of the project with the given ID
func (s *Store) Get(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

// List returns snapshots of all projects, newest first
func (s *Store) List() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a project. Deleting a project mid-run is refused so
// the run's status line and report always have a home.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	if p.Sending {
		return ErrRunInProgress
	}
	delete(s.projects, id)
	return nil
}

// Update applies fn to the project under the store lock and bumps
// UpdatedAt. On error nothing is recorded; fn must mutate only after
// its own validation passes.
func (s *Store) Update(id string, fn func(*Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	return nil
}

// Advance moves the project to a later lifecycle step. Moving backward
// is refused: the template freezes once design is left behind.
func (s *Store) Advance(id string, step Step) error {
	if !step.Valid() {
		return fmt.Errorf("unknown step %q", step)
	}
	return s.Update(id, func(p *Project) error {
		if p.Step.After(step) {
			return ErrStepBackward
		}
		p.Step = step
		return nil
	})
}

// StartRun marks the project as sending and clears the previous run's
// report. Only one run per project may be in flight.
func (s *Store) StartRun(id string) error {
	return s.Update(id, func(p *Project) error {
		if p.Sending {
			return ErrRunInProgress
		}
		p.Sending = true
		p.Report = nil
		p.Step = StepSend
		p.StatusLine = "Starting..."
		return nil
	})
}

// SetStatusLine updates the live status line; readers polling Get see
// it while the run is in flight
func (s *Store) SetStatusLine(id, line string) {
	_ = s.Update(id, func(p *Project) error {
		p.StatusLine = line
		return nil
	})
}

// FinishRun records the run's report and clears the sending flag. A
// nil report means the run aborted before producing one.
func (s *Store) FinishRun(id string, report *sender.Report) {
	_ = s.Update(id, func(p *Project) error {
		p.Sending = false
		p.Report = report
		return nil
	})
}
