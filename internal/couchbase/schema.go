package couchbase

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"
)

// Collection names inside the application scope
const (
	colUsers         = "users"
	colProfiles      = "profiles"
	colClaims        = "claims"
	colTutors        = "tutors"
	colPets          = "pets"
	colClinics       = "clinics"
	colVeterinarians = "veterinarians"
	colExams         = "exams"
	colPermissions   = "permissions"
)

var collections = []string{
	colUsers, colProfiles, colClaims, colTutors, colPets,
	colClinics, colVeterinarians, colExams, colPermissions,
}

type index struct {
	collection string
	name       string
	fields     string
}

var indexes = []index{
	{colUsers, "idx_users_username", "username"},
	{colExams, "idx_exams_created", "created_nanos DESC, id DESC"},
	{colExams, "idx_exams_type", "LOWER(exam_type)"},
	{colPermissions, "idx_permissions_user", "user_id, exam_id"},
	{colPermissions, "idx_permissions_exam", "exam_id"},
}

// schemaStatements lists the DDL run by EnsureSchema, in order
func schemaStatements(bucket, scope string) []string {
	stmts := []string{fmt.Sprintf("CREATE SCOPE `%s`.`%s`", bucket, scope)}
	for _, c := range collections {
		stmts = append(stmts, fmt.Sprintf("CREATE COLLECTION %s", keyspace(bucket, scope, c)))
	}
	for _, c := range collections {
		stmts = append(stmts, fmt.Sprintf("CREATE PRIMARY INDEX IF NOT EXISTS ON %s", keyspace(bucket, scope, c)))
	}
	for _, idx := range indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS `%s` ON %s(%s)",
			idx.name, keyspace(bucket, scope, idx.collection), idx.fields))
	}
	return stmts
}

// EnsureSchema creates the scope, its collections and indexes. Objects that
// already exist are skipped.
func (c *Connection) EnsureSchema(ctx context.Context) error {
	log.Info().Str("scope", c.scope).Msg("Ensuring Couchbase schema")

	for _, stmt := range schemaStatements(c.bucket.Name(), c.scope) {
		_, err := c.cluster.Query(stmt, &gocb.QueryOptions{Context: ctx})
		if err == nil {
			log.Debug().Str("query", stmt).Msg("Schema statement applied")
			continue
		}
		if isExistsError(err) {
			log.Debug().Str("query", stmt).Msg("Schema object already exists")
			continue
		}
		if strings.HasPrefix(stmt, "CREATE INDEX") || strings.HasPrefix(stmt, "CREATE PRIMARY INDEX") {
			log.Warn().Err(err).Str("query", stmt).Msg("Failed to create index, continuing")
			continue
		}
		return fmt.Errorf("apply %q: %w", stmt, err)
	}

	log.Info().Str("scope", c.scope).Msg("Couchbase schema ready")
	return nil
}

func isExistsError(err error) bool {
	if err == nil {
		return false
	}
	if errorsIsAny(err, gocb.ErrScopeExists, gocb.ErrCollectionExists, gocb.ErrIndexExists) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}
