package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusgate/gatepass/internal/db/models"
)

const studentColumns = `id, student_number, name, course, email, password_hash, created_at, updated_at`

// StudentRepository handles student account persistence
type StudentRepository struct {
	db DBTX
}

// NewStudentRepository creates a new student repository
func NewStudentRepository(db DBTX) *StudentRepository {
	return &StudentRepository{db: db}
}

// CreateStudent inserts a student and fills in the generated fields
func (r *StudentRepository) CreateStudent(ctx context.Context, s *models.Student) error {
	query := `
		INSERT INTO students (student_number, name, course, email, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, query, s.StudentNumber, s.Name, s.Course, s.Email, s.PasswordHash)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create student: %w", err)
	}
	return nil
}

func (r *StudentRepository) getStudent(ctx context.Context, query string, arg interface{}) (*models.Student, error) {
	var s models.Student
	err := r.db.GetContext(ctx, &s, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStudentByID returns nil when the student does not exist
func (r *StudentRepository) GetStudentByID(ctx context.Context, id int64) (*models.Student, error) {
	return r.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

// GetStudentByEmail matches case-insensitively
func (r *StudentRepository) GetStudentByEmail(ctx context.Context, email string) (*models.Student, error) {
	return r.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE LOWER(email) = LOWER($1)`, email)
}

// GetStudentByNumber returns nil when no student has that number
func (r *StudentRepository) GetStudentByNumber(ctx context.Context, number string) (*models.Student, error) {
	return r.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE student_number = $1`, number)
}
