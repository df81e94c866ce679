package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

const accountsTable = "accounts"

var accountColumns = []string{
	"id",
	"email",
	"first_name",
	"last_name",
	"password_hash",
	"status",
	"created_at",
	"updated_at",
	"password_changed_at",
}

// AccountRepository implements port.AccountRepository backed by PostgreSQL.
type AccountRepository struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a PostgreSQL-backed account repository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{
		db:      db,
		builder: statementBuilder(),
	}
}

// Create inserts the account and its role assignments in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	account.Email = domain.NormalizeEmail(account.Email)

	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		stmt, args, err := r.builder.Insert(accountsTable).
			Columns(accountColumns...).
			Values(
				account.ID,
				account.Email,
				account.FirstName,
				account.LastName,
				account.PasswordHash,
				string(account.Status),
				account.CreatedAt,
				account.UpdatedAt,
				account.PasswordChangedAt,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert account sql: %w", err)
		}

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrAlreadyExists
			}
			return fmt.Errorf("insert account: %w", err)
		}

		return r.assignRoles(ctx, tx, account.ID, account.Roles)
	})
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email)})
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMalformedID(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	roles, err := r.loadRoles(ctx, []string{account.ID})
	if err != nil {
		return nil, err
	}
	account.Roles = rolesOrEmpty(roles[account.ID])

	return &account, nil
}

// Save overwrites the mutable columns and role assignments. Last writer wins.
func (r *AccountRepository) Save(ctx context.Context, account domain.Account) error {
	account.Email = domain.NormalizeEmail(account.Email)

	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		stmt, args, err := r.builder.Update(accountsTable).
			SetMap(map[string]any{
				"email":               account.Email,
				"first_name":          account.FirstName,
				"last_name":           account.LastName,
				"password_hash":       account.PasswordHash,
				"status":              string(account.Status),
				"updated_at":          account.UpdatedAt,
				"password_changed_at": account.PasswordChangedAt,
			}).
			Where(squirrel.Eq{"id": account.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update account sql: %w", err)
		}

		tag, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrAlreadyExists
			}
			return fmt.Errorf("update account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}

		stmt, args, err = r.builder.Delete("account_roles").Where(squirrel.Eq{"account_id": account.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("build clear roles sql: %w", err)
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("clear account roles: %w", err)
		}

		return r.assignRoles(ctx, tx, account.ID, account.Roles)
	})
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete(accountsTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete account sql: %w", err)
	}
	return r.execOne(ctx, "delete account", stmt, args)
}

// SetVerified is idempotent; verifying a verified account only bumps updated_at.
func (r *AccountRepository) SetVerified(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("status", string(domain.AccountStatusVerified)).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verify account sql: %w", err)
	}
	return r.execOne(ctx, "verify account", stmt, args)
}

func (r *AccountRepository) SetPasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("password_hash", hash).
		Set("password_changed_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set password sql: %w", err)
	}
	return r.execOne(ctx, "set password hash", stmt, args)
}

// List returns all accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	ids := make([]string, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
		ids = append(ids, account.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	if len(accounts) == 0 {
		return accounts, nil
	}

	roles, err := r.loadRoles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].Roles = rolesOrEmpty(roles[accounts[i].ID])
	}

	return accounts, nil
}

func (r *AccountRepository) execOne(ctx context.Context, op, stmt string, args []any) error {
	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		if isMalformedID(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// assignRoles upserts the role catalogue entries then links them to the account.
func (r *AccountRepository) assignRoles(ctx context.Context, tx pgx.Tx, accountID string, roles []domain.Role) error {
	for _, role := range roles {
		if err := r.upsert(ctx, tx, r.builder.Insert("roles").Columns("name").Values(role.Name)); err != nil {
			return fmt.Errorf("upsert role %s: %w", role.Name, err)
		}
		for _, privilege := range role.Privileges {
			if err := r.upsert(ctx, tx, r.builder.Insert("privileges").Columns("name").Values(privilege.Name)); err != nil {
				return fmt.Errorf("upsert privilege %s: %w", privilege.Name, err)
			}
			link := r.builder.Insert("role_privileges").Columns("role_name", "privilege_name").Values(role.Name, privilege.Name)
			if err := r.upsert(ctx, tx, link); err != nil {
				return fmt.Errorf("link privilege %s: %w", privilege.Name, err)
			}
		}
		assign := r.builder.Insert("account_roles").Columns("account_id", "role_name").Values(accountID, role.Name)
		if err := r.upsert(ctx, tx, assign); err != nil {
			return fmt.Errorf("assign role %s: %w", role.Name, err)
		}
	}
	return nil
}

func (r *AccountRepository) upsert(ctx context.Context, tx pgx.Tx, insert squirrel.InsertBuilder) error {
	stmt, args, err := insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, stmt, args...)
	return err
}

// loadRoles returns the roles of the given accounts keyed by account id,
// ordered by role then privilege name.
func (r *AccountRepository) loadRoles(ctx context.Context, accountIDs []string) (map[string][]domain.Role, error) {
	stmt, args, err := r.builder.Select("ar.account_id", "ar.role_name", "rp.privilege_name").
		From("account_roles ar").
		LeftJoin("role_privileges rp ON rp.role_name = ar.role_name").
		Where(squirrel.Eq{"ar.account_id": accountIDs}).
		OrderBy("ar.account_id", "ar.role_name", "rp.privilege_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select roles sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Role, len(accountIDs))
	for rows.Next() {
		var (
			accountID string
			roleName  string
			privilege sql.NullString
		)
		if err := rows.Scan(&accountID, &roleName, &privilege); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}

		roles := out[accountID]
		if n := len(roles); n == 0 || roles[n-1].Name != roleName {
			roles = append(roles, domain.NewRole(roleName))
		}
		if privilege.Valid {
			last := &roles[len(roles)-1]
			last.Privileges = append(last.Privileges, domain.Privilege{Name: privilege.String})
		}
		out[accountID] = roles
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return out, nil
}

func rolesOrEmpty(roles []domain.Role) []domain.Role {
	if roles == nil {
		return []domain.Role{}
	}
	return roles
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		account domain.Account
		status  string
	)
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FirstName,
		&account.LastName,
		&account.PasswordHash,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.PasswordChangedAt,
	); err != nil {
		return domain.Account{}, err
	}
	account.Status = domain.AccountStatus(status)
	account.Roles = []domain.Role{}
	return account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
