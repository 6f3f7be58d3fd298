package repository

import (
	"database/sql"
	"fmt"

	"mixfm/db"
	"mixfm/model"
)

// UserRepository defines the interface for account data operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	GetUserByID(id int64) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	UpdatePlan(userID int64, plan model.PlanTier) error
}

// mysqlUserRepository implements UserRepository for MySQL.
type mysqlUserRepository struct {
	db *sql.DB
}

// NewMySQLUserRepository creates a new mysqlUserRepository.
func NewMySQLUserRepository() UserRepository {
	return &mysqlUserRepository{db: db.DB}
}

// CreateUser adds a new account to the database.
func (r *mysqlUserRepository) CreateUser(user *model.User) (int64, error) {
	query := "INSERT INTO users (username, email, password_hash, plan) VALUES (?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create user statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(user.Username, user.Email, user.PasswordHash, user.Plan)
	if err != nil {
		return 0, fmt.Errorf("failed to execute create user statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for user: %w", err)
	}
	return id, nil
}

// GetUserByID retrieves a user by their ID.
func (r *mysqlUserRepository) GetUserByID(id int64) (*model.User, error) {
	return r.getOne("id = ?", id)
}

// GetUserByUsername retrieves a user by their username.
func (r *mysqlUserRepository) GetUserByUsername(username string) (*model.User, error) {
	return r.getOne("username = ?", username)
}

// GetUserByEmail retrieves a user by their email address.
func (r *mysqlUserRepository) GetUserByEmail(email string) (*model.User, error) {
	return r.getOne("email = ?", email)
}

func (r *mysqlUserRepository) getOne(where string, arg interface{}) (*model.User, error) {
	query := "SELECT id, username, email, password_hash, plan, created_at, updated_at FROM users WHERE " + where
	row := r.db.QueryRow(query, arg)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Plan, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to scan user row: %w", err)
	}
	return user, nil
}

// UpdatePlan moves a user onto a different plan tier.
func (r *mysqlUserRepository) UpdatePlan(userID int64, plan model.PlanTier) error {
	query := "UPDATE users SET plan = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare update plan statement: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(plan, userID); err != nil {
		return fmt.Errorf("failed to update plan for user %d: %w", userID, err)
	}
	return nil
}
