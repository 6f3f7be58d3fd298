package repository

import (
	"database/sql"
	"fmt"
	"time"

	"mixfm/db"
	"mixfm/model"
)

// JingleRepository defines the interface for jingle library data operations.
type JingleRepository interface {
	CreateJingle(jingle *model.Jingle) (int64, error)
	GetJingleByID(id int64) (*model.Jingle, error)
	GetAllJinglesByUserID(userID int64) ([]*model.Jingle, error)
	DeleteJingle(id, userID int64) error
}

// mysqlJingleRepository implements JingleRepository for MySQL.
type mysqlJingleRepository struct {
	DB *sql.DB
}

// NewMySQLJingleRepository creates a new instance of mysqlJingleRepository.
func NewMySQLJingleRepository() JingleRepository {
	return &mysqlJingleRepository{DB: db.DB}
}

// CreateJingle adds a new jingle to the database.
func (r *mysqlJingleRepository) CreateJingle(jingle *model.Jingle) (int64, error) {
	query := `INSERT INTO jingles (user_id, name, object_key, size_bytes, duration, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateJingle: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(jingle.UserID, jingle.Name, jingle.ObjectKey, jingle.SizeBytes, jingle.Duration, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateJingle: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateJingle: %w", err)
	}
	return id, nil
}

// GetJingleByID retrieves a jingle by its ID, nil when not found.
func (r *mysqlJingleRepository) GetJingleByID(id int64) (*model.Jingle, error) {
	query := `SELECT id, user_id, name, object_key, size_bytes, duration, created_at, updated_at
	           FROM jingles WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	jingle := &model.Jingle{}
	err := row.Scan(&jingle.ID, &jingle.UserID, &jingle.Name, &jingle.ObjectKey, &jingle.SizeBytes, &jingle.Duration, &jingle.CreatedAt, &jingle.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan jingle by ID %d: %w", id, err)
	}
	return jingle, nil
}

// GetAllJinglesByUserID retrieves a user's jingle library.
func (r *mysqlJingleRepository) GetAllJinglesByUserID(userID int64) ([]*model.Jingle, error) {
	query := `SELECT id, user_id, name, object_key, size_bytes, duration, created_at, updated_at
	           FROM jingles WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jingles for user ID %d: %w", userID, err)
	}
	defer rows.Close()

	jingles := make([]*model.Jingle, 0)
	for rows.Next() {
		jingle := &model.Jingle{}
		err := rows.Scan(&jingle.ID, &jingle.UserID, &jingle.Name, &jingle.ObjectKey, &jingle.SizeBytes, &jingle.Duration, &jingle.CreatedAt, &jingle.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan jingle in GetAllJinglesByUserID: %w", err)
		}
		jingles = append(jingles, jingle)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAllJinglesByUserID: %w", err)
	}

	return jingles, nil
}

// DeleteJingle removes a jingle; scoped by user so one user cannot delete
// another's clips.
func (r *mysqlJingleRepository) DeleteJingle(id, userID int64) error {
	query := `DELETE FROM jingles WHERE id = ? AND user_id = ?`
	res, err := r.DB.Exec(query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to execute DeleteJingle for ID %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for DeleteJingle: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("jingle %d not found for user %d", id, userID)
	}
	return nil
}
