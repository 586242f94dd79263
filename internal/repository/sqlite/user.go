package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, firstname, lastname, email, password_hash,
	disabled, su, verified, created_at, updated_at`

// Insert creates a new account row.
//
// The ID is an xid: globally unique and sortable by creation time, so
// "ORDER BY id" lists accounts in registration order.
func (db *DB) Insert(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	id := xid.New().String()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		a.Username,
		a.Firstname,
		a.Lastname,
		a.Email,
		a.PasswordHash,
		a.Disabled,
		a.IsSuperuser,
		a.Verified,
		now,
		now,
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			switch column {
			case "users.email":
				return &repository.UniquenessViolation{Field: repository.FieldEmail, Value: a.Email}
			default:
				return &repository.UniquenessViolation{Field: repository.FieldUsername, Value: a.Username}
			}
		}
		return apperror.Storage("inserting user", err)
	}

	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// FindByID retrieves an account by its ID.
// Returns apperror.ErrNotFound if no account exists with that ID.
func (db *DB) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return db.findOne(ctx, "id", id)
}

// FindByUsername matches case-insensitively (the column is COLLATE NOCASE).
func (db *DB) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	return db.findOne(ctx, "username", username)
}

// FindByEmail matches case-insensitively (the column is COLLATE NOCASE).
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.findOne(ctx, "email", email)
}

// findOne loads a single account by one of its unique columns.
// column is always a constant from this file, never user input.
func (db *DB) findOne(ctx context.Context, column, value string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, apperror.Storage(fmt.Sprintf("getting user by %s", column), err)
	}

	teams, err := db.teamsOf(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.TeamIDs = teams

	return a, nil
}

// ListAll returns every account ordered by id ascending, with team
// memberships attached.
func (db *DB) ListAll(ctx context.Context) ([]model.Account, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id ASC`,
	)
	if err != nil {
		return nil, apperror.Storage("listing users", err)
	}
	defer rows.Close()

	accounts := make([]model.Account, 0)
	index := make(map[string]int)

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, apperror.Storage("scanning user row", err)
		}
		index[a.ID] = len(accounts)
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("iterating users", err)
	}
	rows.Close()

	teamRows, err := db.conn.QueryContext(ctx,
		`SELECT team_id, user_id FROM team_members ORDER BY team_id`,
	)
	if err != nil {
		return nil, apperror.Storage("listing team members", err)
	}
	defer teamRows.Close()

	for teamRows.Next() {
		var teamID, userID string
		if err := teamRows.Scan(&teamID, &userID); err != nil {
			return nil, apperror.Storage("scanning team member row", err)
		}
		if i, ok := index[userID]; ok {
			accounts[i].TeamIDs = append(accounts[i].TeamIDs, teamID)
		}
	}
	if err := teamRows.Err(); err != nil {
		return nil, apperror.Storage("iterating team members", err)
	}

	return accounts, nil
}

// Delete removes an account. Its tokens and memberships cascade.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return apperror.Storage("deleting user", err)
	}
	return requireAffected(result, "user", id)
}

// MarkVerified flags the account's email as proven.
func (db *DB) MarkVerified(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET verified = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return apperror.Storage("verifying user", err)
	}
	return requireAffected(result, "user", id)
}

// AddTeamMember records a membership. Adding an existing membership is a no-op.
func (db *DB) AddTeamMember(ctx context.Context, teamID, accountID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO team_members (team_id, user_id) VALUES (?, ?)`,
		teamID, accountID,
	)
	if err != nil {
		return apperror.Storage("adding team member", err)
	}
	return nil
}

func (db *DB) teamsOf(ctx context.Context, accountID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT team_id FROM team_members WHERE user_id = ? ORDER BY team_id`,
		accountID,
	)
	if err != nil {
		return nil, apperror.Storage("listing teams", err)
	}
	defer rows.Close()

	var teams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Storage("scanning team row", err)
		}
		teams = append(teams, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("iterating teams", err)
	}
	return teams, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	var a model.Account
	err := s.Scan(
		&a.ID,
		&a.Username,
		&a.Firstname,
		&a.Lastname,
		&a.Email,
		&a.PasswordHash,
		&a.Disabled,
		&a.IsSuperuser,
		&a.Verified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperror.Storage("reading affected rows", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
