// Package exams implements exam upload, listing, download, deletion and
// forwarding.
package exams

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/examfile"
	"lumavet.pet/lumavet/internal/media"
	"lumavet.pet/lumavet/internal/metrics"
	"lumavet.pet/lumavet/internal/registry"
	"lumavet.pet/lumavet/internal/store"
)

// Defaults for paging and size limits
const (
	DefaultPageSize      = 50
	MaxPageSize          = 500
	MaxPage              = 1_000_000
	DefaultMaxUploadSize = 20 << 20
	ReturnDateLayout     = "2006-01-02"
)

// Notifier sends the exam email
type Notifier interface {
	SendExamEmail(ctx context.Context, exam *domain.Exam, to, recipientLabel, activationLink string) (bool, error)
}

// Accounts is what exams needs from the account service
type Accounts interface {
	Invite(ctx context.Context, email, name string) (*domain.User, bool, error)
	ActivationLink(u *domain.User) (string, error)
}

// Backend is the storage used by exams
type Backend interface {
	registry.Backend
	store.ExamStore
}

// Service coordinates uploads with the registry, media storage and mail
type Service struct {
	backend  Backend
	registry *registry.Registry
	media    *media.Storage
	notifier Notifier
	accounts Accounts
	maxSize  int64
	now      func() time.Time
}

// NewService creates the exam service. maxSize <= 0 uses DefaultMaxUploadSize.
func NewService(backend Backend, files *media.Storage, notifier Notifier, accounts Accounts, maxSize int64) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &Service{
		backend:  backend,
		registry: registry.New(backend),
		media:    files,
		notifier: notifier,
		accounts: accounts,
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// MaxUploadSize is the largest accepted PDF in bytes
func (s *Service) MaxUploadSize() int64 {
	return s.maxSize
}

// Recipient is one notification outcome
type Recipient struct {
	Email      string `json:"email"`
	Label      string `json:"label"`
	Activation bool   `json:"activation"`
	Sent       bool   `json:"sent"`
}

// UploadResult describes a stored upload
type UploadResult struct {
	Exam             *domain.Exam `json:"exam"`
	TutorCreated     bool         `json:"tutor_created"`
	PetCreated       bool         `json:"pet_created"`
	TutorUserCreated bool         `json:"tutor_user_created"`
	Notified         []Recipient  `json:"notified"`
}

// Upload validates, stores and registers one exam PDF, then notifies the
// tutor and the uploader. Notification failures never fail the upload.
func (s *Service) Upload(ctx context.Context, uploader *domain.User, up Upload) (*UploadResult, error) {
	if !authz.CanUpload(uploader) {
		metrics.RecordExamUpload(metrics.ResultDenied, 0)
		return nil, authz.ErrForbidden
	}

	in, err := up.validate(s.maxSize)
	if err != nil {
		metrics.RecordExamUpload(metrics.ResultInvalid, 0)
		return nil, err
	}

	res, err := s.registry.Resolve(ctx, registry.Submission{
		File:        in.parsed,
		ClinicOrVet: in.clinicOrVet,
		TutorEmail:  in.tutorEmail,
		TutorPhone:  in.tutorPhone,
		Uploader:    uploader,
	})
	if err != nil {
		metrics.RecordExamUpload(metrics.ResultFailed, 0)
		return nil, err
	}
	recordCreated(res)

	now := s.now().UTC()
	exam := &domain.Exam{
		ID:           uuid.NewString(),
		ClinicOrVet:  in.clinicOrVet,
		ClinicID:     res.Clinic.ID,
		TutorID:      res.Tutor.ID,
		TutorName:    res.Tutor.Name,
		PetID:        res.Pet.ID,
		PetName:      res.Pet.Name,
		Breed:        res.Pet.Breed,
		ExamType:     in.parsed.ExamType,
		PerformedOn:  in.parsed.PerformedOn,
		ReturnDate:   in.returnDate,
		Observations: in.observations,
		FileName:     examfile.Format(in.parsed),
		FileSize:     int64(len(up.Content)),
		Pages:        in.pages,
		UploadedBy:   uploader.ID,
		CreatedAt:    now,
	}
	if res.Veterinarian != nil {
		exam.VeterinarianID = res.Veterinarian.ID
	}
	exam.FilePath = path.Join("exams", now.Format("2006"), now.Format("01"), exam.ID, exam.FileName)

	if _, err := s.media.Save(exam.FilePath, bytes.NewReader(up.Content)); err != nil {
		metrics.RecordExamUpload(metrics.ResultFailed, 0)
		return nil, fmt.Errorf("store exam file: %w", err)
	}
	if err := s.backend.CreateExam(ctx, exam); err != nil {
		if rerr := s.media.Remove(exam.FilePath); rerr != nil {
			log.Warn().Err(rerr).Str("path", exam.FilePath).Msg("Failed to remove orphaned exam file")
		}
		metrics.RecordExamUpload(metrics.ResultFailed, 0)
		return nil, fmt.Errorf("create exam: %w", err)
	}

	err = s.grant(ctx, exam.ID, uploader.ID, uploader.ID, domain.ReasonUploader)
	if err == nil && res.TutorUser != nil {
		err = s.grant(ctx, exam.ID, res.TutorUser.ID, uploader.ID, domain.ReasonTutor)
	}
	if err != nil {
		s.discardUpload(ctx, exam)
		metrics.RecordExamUpload(metrics.ResultFailed, 0)
		return nil, err
	}

	metrics.RecordExamUpload(metrics.ResultSuccess, exam.FileSize)
	log.Info().
		Str("exam_id", exam.ID).
		Str("uploader", uploader.ID).
		Str("tutor_id", exam.TutorID).
		Str("pet_id", exam.PetID).
		Str("exam_type", exam.ExamType).
		Int("pages", exam.Pages).
		Msg("Exam uploaded")

	out := &UploadResult{
		Exam:             exam,
		TutorCreated:     res.TutorCreated,
		PetCreated:       res.PetCreated,
		TutorUserCreated: res.TutorUserCreated,
	}
	out.Notified = s.notifyUpload(ctx, exam, res, uploader)
	return out, nil
}

func recordCreated(res *registry.Result) {
	if res.TutorCreated {
		metrics.RecordRegistryCreate("tutor")
	}
	if res.PetCreated {
		metrics.RecordRegistryCreate("pet")
	}
	if res.TutorUserCreated {
		metrics.RecordRegistryCreate("tutor_user")
	}
}

// discardUpload undoes a partially recorded upload. Errors are logged since
// the caller already reports the original failure.
func (s *Service) discardUpload(ctx context.Context, exam *domain.Exam) {
	l := log.With().Str("exam_id", exam.ID).Logger()
	if err := s.backend.DeletePermissions(ctx, exam.ID); err != nil {
		l.Warn().Err(err).Msg("Failed to remove permissions of discarded exam")
	}
	if err := s.backend.DeleteExam(ctx, exam.ID); err != nil {
		l.Warn().Err(err).Msg("Failed to remove discarded exam")
	}
	if err := s.media.Remove(exam.FilePath); err != nil {
		l.Warn().Err(err).Str("path", exam.FilePath).Msg("Failed to remove orphaned exam file")
	}
}

func (s *Service) grant(ctx context.Context, examID, userID, by, reason string) error {
	err := s.backend.GrantPermission(ctx, &domain.ExamPermission{
		ExamID:    examID,
		UserID:    userID,
		GrantedBy: by,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("grant %s access: %w", reason, err)
	}
	return nil
}

func (s *Service) notifyUpload(ctx context.Context, exam *domain.Exam, res *registry.Result, uploader *domain.User) []Recipient {
	out := []Recipient{}

	tutorEmail := res.Tutor.Email
	if res.TutorUser != nil && res.TutorUser.Email != "" {
		tutorEmail = res.TutorUser.Email
	}
	if tutorEmail != "" {
		out = append(out, s.notify(ctx, exam, tutorEmail, res.Tutor.Name, res.TutorUser))
	}

	if uploader.Email != "" && !strings.EqualFold(uploader.Email, tutorEmail) {
		label := uploader.FirstName
		if label == "" {
			label = exam.ClinicOrVet
		}
		out = append(out, s.notify(ctx, exam, uploader.Email, label, nil))
	}
	return out
}

// notify sends one email, adding the activation link for accounts that were
// never activated
func (s *Service) notify(ctx context.Context, exam *domain.Exam, to, label string, account *domain.User) Recipient {
	rcpt := Recipient{Email: to, Label: label}

	var link string
	if account != nil && !account.Active && !account.HasUsablePassword() {
		l, err := s.accounts.ActivationLink(account)
		if err != nil {
			log.Warn().Err(err).Str("user_id", account.ID).Msg("Failed to build activation link")
		} else {
			link = l
			rcpt.Activation = true
		}
	}

	sent, err := s.notifier.SendExamEmail(ctx, exam, to, label, link)
	if err != nil {
		log.Error().Err(err).Str("exam_id", exam.ID).Str("to", to).Msg("Failed to send exam email")
	}
	rcpt.Sent = sent
	return rcpt
}

// ListParams selects a page of exams
type ListParams struct {
	Page     int    `schema:"page"`
	Count    int    `schema:"count"`
	Query    string `schema:"q"`
	ExamType string `schema:"exam_type"`
}

// Normalize applies defaults and bounds
func (p *ListParams) Normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	// Keeps (Page-1)*Count well inside int
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Count <= 0 {
		p.Count = DefaultPageSize
	}
	if p.Count > MaxPageSize {
		p.Count = MaxPageSize
	}
	p.Query = strings.TrimSpace(p.Query)
	p.ExamType = strings.TrimSpace(p.ExamType)
}

// Page is one page of exams
type Page struct {
	Exams   []*domain.Exam `json:"data"`
	Page    int            `json:"page"`
	Count   int            `json:"count"`
	HasNext bool           `json:"has_next"`
}

// List returns the exams visible to caller, newest first
func (s *Service) List(ctx context.Context, caller *domain.User, p ListParams) (*Page, error) {
	p.Normalize()
	exams, err := s.backend.ListExams(ctx, store.ExamQuery{
		VisibleTo: authz.VisibilityFilter(caller),
		Search:    p.Query,
		ExamType:  p.ExamType,
		Offset:    (p.Page - 1) * p.Count,
		Limit:     p.Count + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	page := &Page{Page: p.Page, Count: p.Count}
	if len(exams) > p.Count {
		page.HasNext = true
		exams = exams[:p.Count]
	}
	if exams == nil {
		exams = []*domain.Exam{}
	}
	page.Exams = exams
	return page, nil
}

// Get returns an exam the caller may view. Exams the caller cannot see
// are reported as not found.
func (s *Service) Get(ctx context.Context, caller *domain.User, id string) (*domain.Exam, error) {
	exam, err := s.backend.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := authz.CanViewExam(ctx, s.backend, caller, id)
	if err != nil {
		return nil, fmt.Errorf("check exam access: %w", err)
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return exam, nil
}

// OpenFile returns the stored PDF of a visible exam. The caller closes it.
func (s *Service) OpenFile(ctx context.Context, caller *domain.User, id string) (*domain.Exam, afero.File, error) {
	exam, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.media.Open(exam.FilePath)
	if errors.Is(err, media.ErrNotFound) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return exam, f, nil
}

// Delete removes an exam, its file and its grants. Only admins and the
// uploader may delete.
func (s *Service) Delete(ctx context.Context, caller *domain.User, id string) error {
	exam, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if !authz.CanDeleteExam(caller, exam) {
		return authz.ErrForbidden
	}

	if err := s.backend.DeleteExam(ctx, id); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	if err := s.backend.DeletePermissions(ctx, id); err != nil {
		log.Warn().Err(err).Str("exam_id", id).Msg("Failed to delete exam permissions")
	}
	if err := s.media.Remove(exam.FilePath); err != nil {
		log.Warn().Err(err).Str("exam_id", id).Str("path", exam.FilePath).Msg("Failed to remove exam file")
	}

	log.Info().Str("exam_id", id).Str("by", caller.ID).Msg("Exam deleted")
	return nil
}

// ForwardResult reports a forward
type ForwardResult struct {
	UserID      string    `json:"user_id"`
	UserCreated bool      `json:"user_created"`
	Notified    Recipient `json:"notified"`
}

// Forward shares a visible exam with the account owning email, inviting
// a new tutor account when none exists, and emails them
func (s *Service) Forward(ctx context.Context, caller *domain.User, id, email string) (*ForwardResult, error) {
	exam, err := s.Get(ctx, caller, id)
	if err != nil {
		metrics.RecordForward(metrics.ResultDenied)
		return nil, err
	}

	target, created, err := s.accounts.Invite(ctx, email, "")
	if err != nil {
		metrics.RecordForward(metrics.ResultInvalid)
		return nil, err
	}
	if err := s.grant(ctx, exam.ID, target.ID, caller.ID, domain.ReasonForwarded); err != nil {
		metrics.RecordForward(metrics.ResultFailed)
		return nil, err
	}

	label := target.FirstName
	if label == "" {
		label = target.Email
	}
	rcpt := s.notify(ctx, exam, target.Email, label, target)

	metrics.RecordForward(metrics.ResultSuccess)
	log.Info().
		Str("exam_id", exam.ID).
		Str("by", caller.ID).
		Str("to_user", target.ID).
		Bool("user_created", created).
		Msg("Exam forwarded")
	return &ForwardResult{UserID: target.ID, UserCreated: created, Notified: rcpt}, nil
}
