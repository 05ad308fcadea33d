package couchbase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/store"
)

// examDoc adds a sortable creation stamp to the stored exam
type examDoc struct {
	domain.Exam
	CreatedNanos int64 `json:"created_nanos"`
}

func permissionKey(examID, userID string) string {
	return docKey(examID, userID)
}

func (s *Store) CreateExam(ctx context.Context, e *domain.Exam) error {
	return s.docs(colExams).insert(ctx, e.ID, examDoc{Exam: *e, CreatedNanos: e.CreatedAt.UnixNano()})
}

func (s *Store) GetExam(ctx context.Context, id string) (*domain.Exam, error) {
	var doc examDoc
	if _, err := s.docs(colExams).get(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc.Exam, nil
}

func (s *Store) DeleteExam(ctx context.Context, id string) error {
	return s.docs(colExams).remove(ctx, id)
}

// buildExamListQuery renders the N1QL statement and named parameters for q.
// Callers scoped to a user are joined through their permission rows.
func buildExamListQuery(exams, permissions string, q store.ExamQuery) (string, map[string]interface{}) {
	params := map[string]interface{}{}
	var b strings.Builder

	if q.VisibleTo != "" {
		fmt.Fprintf(&b, "SELECT e.* FROM %s p JOIN %s e ON KEYS p.exam_id WHERE p.user_id = $user_id", permissions, exams)
		params["user_id"] = q.VisibleTo
	} else {
		fmt.Fprintf(&b, "SELECT e.* FROM %s e WHERE e.id IS NOT MISSING", exams)
	}

	if t := strings.TrimSpace(q.ExamType); t != "" {
		b.WriteString(" AND LOWER(e.exam_type) = $exam_type")
		params["exam_type"] = strings.ToLower(t)
	}
	// N1QL LOWER is a plain lowercase, so the needle is lowercased rather than folded
	if needle := strings.ToLower(strings.Join(strings.Fields(q.Search), " ")); needle != "" {
		b.WriteString(" AND (CONTAINS(LOWER(e.pet_name), $search)" +
			" OR CONTAINS(LOWER(e.tutor_name), $search)" +
			" OR CONTAINS(LOWER(e.clinic_or_vet), $search)" +
			" OR CONTAINS(LOWER(e.exam_type), $search))")
		params["search"] = needle
	}

	b.WriteString(" ORDER BY e.created_nanos DESC, e.id DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT $limit")
		params["limit"] = q.Limit
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET $offset")
		params["offset"] = q.Offset
	}
	return b.String(), params
}

func (s *Store) ListExams(ctx context.Context, q store.ExamQuery) ([]*domain.Exam, error) {
	query, params := buildExamListQuery(s.conn.keyspace(colExams), s.conn.keyspace(colPermissions), q)

	log.Debug().Str("query", query).Interface("params", params).Msg("Listing exams")
	rows, err := s.conn.cluster.Query(query, consistentQuery(ctx, params))
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	out := []*domain.Exam{}
	for rows.Next() {
		var doc examDoc
		if err := rows.Row(&doc); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable exam row")
			continue
		}
		e := doc.Exam
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return out, nil
}

// GrantPermission inserts the grant; an existing grant is kept as is
func (s *Store) GrantPermission(ctx context.Context, p *domain.ExamPermission) error {
	err := s.docs(colPermissions).insert(ctx, permissionKey(p.ExamID, p.UserID), p)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

func (s *Store) HasPermission(ctx context.Context, examID, userID string) (bool, error) {
	return s.docs(colPermissions).exists(ctx, permissionKey(examID, userID))
}

func (s *Store) DeletePermissions(ctx context.Context, examID string) error {
	query, opts := deletePermissionsQuery(ctx, s.conn.keyspace(colPermissions), examID)
	rows, err := s.conn.cluster.Query(query, opts)
	if err != nil {
		return fmt.Errorf("delete permissions of %s: %w", examID, err)
	}
	return rows.Close()
}

// deletePermissionsQuery scans at request_plus so grants written just before
// the delete are removed too
func deletePermissionsQuery(ctx context.Context, permissions, examID string) (string, *gocb.QueryOptions) {
	return fmt.Sprintf("DELETE FROM %s p WHERE p.exam_id = $exam_id", permissions),
		consistentQuery(ctx, map[string]interface{}{"exam_id": examID})
}
