package store

import (
	"context"
	"sort"
	"sync"

	"lumavet.pet/lumavet/internal/domain"
)

// Memory is a process-local Store used in tests and single-node development
type Memory struct {
	mu sync.RWMutex

	users       map[string]domain.User
	usernames   map[string]string
	emails      map[string]string
	profiles    map[string]domain.Profile
	tutors      map[string]domain.Tutor
	pets        map[string]domain.Pet
	clinics     map[string]domain.Clinic
	vets        map[string]domain.Veterinarian
	exams       map[string]domain.Exam
	permissions map[string]map[string]domain.ExamPermission
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]domain.User),
		usernames:   make(map[string]string),
		emails:      make(map[string]string),
		profiles:    make(map[string]domain.Profile),
		tutors:      make(map[string]domain.Tutor),
		pets:        make(map[string]domain.Pet),
		clinics:     make(map[string]domain.Clinic),
		vets:        make(map[string]domain.Veterinarian),
		exams:       make(map[string]domain.Exam),
		permissions: make(map[string]map[string]domain.ExamPermission),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	uname := NormalizeKey(u.Username)
	if _, ok := m.usernames[uname]; ok {
		return ErrConflict
	}
	email := NormalizeKey(u.Email)
	if email != "" {
		if _, ok := m.emails[email]; ok {
			return ErrConflict
		}
		m.emails[email] = u.ID
	}
	m.usernames[uname] = u.ID
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	id, ok := m.usernames[NormalizeKey(username)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	key := NormalizeKey(email)
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	id, ok := m.emails[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *Memory) UpdateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}

	oldName, newName := NormalizeKey(old.Username), NormalizeKey(u.Username)
	if oldName != newName {
		if _, taken := m.usernames[newName]; taken {
			return ErrConflict
		}
	}
	oldEmail, newEmail := NormalizeKey(old.Email), NormalizeKey(u.Email)
	if oldEmail != newEmail && newEmail != "" {
		if owner, taken := m.emails[newEmail]; taken && owner != u.ID {
			return ErrConflict
		}
	}

	delete(m.usernames, oldName)
	m.usernames[newName] = u.ID
	if oldEmail != "" {
		delete(m.emails, oldEmail)
	}
	if newEmail != "" {
		m.emails[newEmail] = u.ID
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) SaveProfile(_ context.Context, p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[p.UserID] = *p
	return nil
}

func (m *Memory) FindTutorByName(_ context.Context, name string) (*domain.Tutor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tutors[NormalizeKey(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) CreateTutor(_ context.Context, t *domain.Tutor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeKey(t.Name)
	if _, ok := m.tutors[key]; ok {
		return ErrConflict
	}
	m.tutors[key] = *t
	return nil
}

func (m *Memory) UpdateTutor(_ context.Context, name string, mutate func(*domain.Tutor) bool) (*domain.Tutor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeKey(name)
	t, ok := m.tutors[key]
	if !ok {
		return nil, ErrNotFound
	}
	if mutate(&t) {
		m.tutors[key] = t
	}
	return &t, nil
}

func petKey(tutorID, name string) string {
	return tutorID + "::" + NormalizeKey(name)
}

func (m *Memory) FindPet(_ context.Context, tutorID, name string) (*domain.Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pets[petKey(tutorID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) CreatePet(_ context.Context, p *domain.Pet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := petKey(p.TutorID, p.Name)
	if _, ok := m.pets[key]; ok {
		return ErrConflict
	}
	m.pets[key] = *p
	return nil
}

func (m *Memory) UpdatePet(_ context.Context, tutorID, name string, mutate func(*domain.Pet) bool) (*domain.Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := petKey(tutorID, name)
	p, ok := m.pets[key]
	if !ok {
		return nil, ErrNotFound
	}
	if mutate(&p) {
		m.pets[key] = p
	}
	return &p, nil
}

func (m *Memory) FindClinicByName(_ context.Context, name string) (*domain.Clinic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clinics[NormalizeKey(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) CreateClinic(_ context.Context, c *domain.Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeKey(c.Name)
	if _, ok := m.clinics[key]; ok {
		return ErrConflict
	}
	m.clinics[key] = *c
	return nil
}

func (m *Memory) FindVeterinarian(_ context.Context, userID, clinicID string) (*domain.Veterinarian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vets[userID+"::"+clinicID]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *Memory) CreateVeterinarian(_ context.Context, v *domain.Veterinarian) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := v.UserID + "::" + v.ClinicID
	if _, ok := m.vets[key]; ok {
		return ErrConflict
	}
	m.vets[key] = *v
	return nil
}

func (m *Memory) CreateExam(_ context.Context, e *domain.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.exams[e.ID]; ok {
		return ErrConflict
	}
	m.exams[e.ID] = *e
	return nil
}

func (m *Memory) GetExam(_ context.Context, id string) (*domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *Memory) DeleteExam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.exams[id]; !ok {
		return ErrNotFound
	}
	delete(m.exams, id)
	return nil
}

func (m *Memory) ListExams(_ context.Context, q ExamQuery) ([]*domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Exam
	for id, e := range m.exams {
		if q.VisibleTo != "" {
			if _, ok := m.permissions[id][q.VisibleTo]; !ok {
				continue
			}
		}
		if !MatchesSearch(&e, q) {
			continue
		}
		e := e
		out = append(out, &e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*domain.Exam{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) GrantPermission(_ context.Context, p *domain.ExamPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser, ok := m.permissions[p.ExamID]
	if !ok {
		byUser = make(map[string]domain.ExamPermission)
		m.permissions[p.ExamID] = byUser
	}
	if _, exists := byUser[p.UserID]; exists {
		return nil
	}
	byUser[p.UserID] = *p
	return nil
}

func (m *Memory) HasPermission(_ context.Context, examID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.permissions[examID][userID]
	return ok, nil
}

func (m *Memory) DeletePermissions(_ context.Context, examID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.permissions, examID)
	return nil
}

// Counts reports the number of tutors and pets held, for idempotence checks
func (m *Memory) Counts() (tutors, pets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tutors), len(m.pets)
}
