package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/model"
)

var userColumns = []string{"id", "name", "email", "phone", "username", "password_hash", "role"}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (r *repository) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	query, args, err := qb.Select(userColumns...).
		From(usersTableName).
		Where(sq.Eq{"username": username}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.User{}, err
	}

	var user model.User
	if err := sqlx.GetContext(ctx, r.ext(ctx), &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

func (r *repository) GetUserByID(ctx context.Context, id int) (model.User, error) {
	query, args, err := qb.Select(userColumns...).
		From(usersTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.User{}, err
	}

	var user model.User
	if err := sqlx.GetContext(ctx, r.ext(ctx), &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

func (r *repository) GetUserByRole(ctx context.Context, id int, role model.Role) (model.User, error) {
	query, args, err := qb.Select(userColumns...).
		From(usersTableName).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"role": role}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.User{}, err
	}

	var user model.User
	if err := sqlx.GetContext(ctx, r.ext(ctx), &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

func (r *repository) CreateStudent(ctx context.Context, user model.User) (model.User, error) {
	query, args, err := qb.Insert(usersTableName).
		Columns("name", "email", "phone", "username", "password_hash", "role").
		Values(user.Name, user.Email, user.Phone, user.Username, user.PasswordHash, model.RoleStudent).
		Suffix("returning " + "id, name, email, phone, username, password_hash, role").
		ToSql()
	if err != nil {
		return model.User{}, err
	}

	var created model.User
	if err := sqlx.GetContext(ctx, r.ext(ctx), &created, query, args...); err != nil {
		if isUniqueViolation(err) {
			return model.User{}, errs.ErrConflict
		}
		return model.User{}, err
	}
	return created, nil
}

func (r *repository) UpdateUserContact(ctx context.Context, id int, email, phone, passwordHash string) error {
	upd := qb.Update(usersTableName).Where(sq.Eq{"id": id})
	if email != "" {
		upd = upd.Set("email", email)
	}
	if phone != "" {
		upd = upd.Set("phone", phone)
	}
	if passwordHash != "" {
		upd = upd.Set("password_hash", passwordHash)
	}

	query, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *repository) DeleteStudent(ctx context.Context, id int) error {
	query, args, err := qb.Delete(usersTableName).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"role": model.RoleStudent}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const memberStatsSelect = `
select u.id as user_id, u.name, u.email, u.phone, u.username,
	(select count(*) from borrows b
		where b.student_id = u.id and b.status in ('active', 'late')) as active_borrows,
	(select count(*) from borrows b
		where b.student_id = u.id) as total_borrows,
	coalesce((select sum(f.amount) from fines f
		where f.student_id = u.id and f.status = 'unpaid'), 0) as unpaid_fines
from users u
where u.role = 'student'`

func (r *repository) ListMembers(ctx context.Context) ([]model.MemberRow, error) {
	q := memberStatsSelect + ` order by u.id`
	var rows []model.MemberRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SearchMembers(ctx context.Context, query string) ([]model.MemberRow, error) {
	q := memberStatsSelect + `
	and (u.name ilike $1 or u.email ilike $1 or u.phone ilike $1 or u.username ilike $1)
order by u.id`
	pattern := "%" + query + "%"
	var rows []model.MemberRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, q, pattern); err != nil {
		return nil, err
	}
	return rows, nil
}
