package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// PortalStore is the thin CRUD layer behind the admissions dashboards.
// Student lists and fee tables are plain get/put rows with limit/offset
// listing; no business rules live here.
type PortalStore struct {
	db *sql.DB
	pg bool
}

// NewPortalStore creates a PortalStore on the given backend.
func NewPortalStore(backend *database.Backend) *PortalStore {
	return &PortalStore{db: backend.DB, pg: backend.Type == database.BackendPostgreSQL}
}

// ListFilter bounds a listing query.
type ListFilter struct {
	Limit  int
	Offset int
	Status string
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

// CreateStudent inserts a student row.
func (s *PortalStore) CreateStudent(ctx context.Context, st *Student) error {
	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Status == "" {
		st.Status = "applied"
	}
	_, err := s.db.ExecContext(ctx, rebind(s.pg, `
		INSERT INTO students (id, operator_id, full_name, email, phone, program,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		st.ID, st.OperatorID, st.FullName, st.Email, st.Phone, st.Program,
		st.Status, timeToDB(st.CreatedAt), timeToDB(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// GetStudent returns one student by id.
func (s *PortalStore) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg, `
		SELECT id, operator_id, full_name, email, phone, program, status,
			created_at, updated_at
		FROM students WHERE id = ?`), id)
	return scanStudent(row)
}

// ListStudents returns students for an operator with limit/offset paging.
func (s *PortalStore) ListStudents(ctx context.Context, operatorID string, filter ListFilter) ([]*Student, error) {
	query := `
		SELECT id, operator_id, full_name, email, phone, program, status,
			created_at, updated_at
		FROM students WHERE operator_id = ?`
	args := []any{operatorID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, rebind(s.pg, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []*Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// UpdateStudent persists mutable student fields.
func (s *PortalStore) UpdateStudent(ctx context.Context, st *Student) error {
	st.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `
		UPDATE students SET full_name = ?, email = ?, phone = ?, program = ?,
			status = ?, updated_at = ?
		WHERE id = ?`),
		st.FullName, st.Email, st.Phone, st.Program, st.Status,
		timeToDB(st.UpdatedAt), st.ID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return checkAffected(res)
}

// DeleteStudent removes a student row.
func (s *PortalStore) DeleteStudent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `DELETE FROM students WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return checkAffected(res)
}

// CreateFee inserts a fee record.
func (s *PortalStore) CreateFee(ctx context.Context, f *FeeRecord) error {
	f.CreatedAt = time.Now()
	if f.Currency == "" {
		f.Currency = "USD"
	}
	_, err := s.db.ExecContext(ctx, rebind(s.pg, `
		INSERT INTO fee_records (id, student_id, description, amount_cents,
			currency, due_at, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.StudentID, f.Description, f.AmountCents, f.Currency,
		f.DueAt, f.PaidAt, timeToDB(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert fee: %w", err)
	}
	return nil
}

// ListFees returns fee records for a student with limit/offset paging.
func (s *PortalStore) ListFees(ctx context.Context, studentID string, filter ListFilter) ([]*FeeRecord, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.pg, `
		SELECT id, student_id, description, amount_cents, currency, due_at,
			paid_at, created_at
		FROM fee_records WHERE student_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		studentID, filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list fees: %w", err)
	}
	defer rows.Close()

	var fees []*FeeRecord
	for rows.Next() {
		var f FeeRecord
		var createdAt string
		if err := rows.Scan(&f.ID, &f.StudentID, &f.Description, &f.AmountCents,
			&f.Currency, &f.DueAt, &f.PaidAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fee: %w", err)
		}
		f.CreatedAt = timeFromDB(createdAt)
		fees = append(fees, &f)
	}
	return fees, rows.Err()
}

// DeleteFee removes a fee record.
func (s *PortalStore) DeleteFee(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `DELETE FROM fee_records WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete fee: %w", err)
	}
	return checkAffected(res)
}

func scanStudent(row rowScanner) (*Student, error) {
	var st Student
	var createdAt, updatedAt string
	err := row.Scan(&st.ID, &st.OperatorID, &st.FullName, &st.Email, &st.Phone,
		&st.Program, &st.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan student: %w", err)
	}
	st.CreatedAt = timeFromDB(createdAt)
	st.UpdatedAt = timeFromDB(updatedAt)
	return &st, nil
}
