package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkresic/strand/internal/domain"
)

type MembershipRepo struct {
	pool *pgxpool.Pool
}

func NewMembershipRepo(pool *pgxpool.Pool) *MembershipRepo {
	return &MembershipRepo{pool: pool}
}

// insertMembership is shared with ChatRepo's transactional creates.
func insertMembership(ctx context.Context, tx pgx.Tx, m *domain.Membership) error {
	query := `
		INSERT INTO memberships (chat_id, user_id, role,
			can_add_members, can_pin_messages, can_delete_messages, can_send_messages, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.Exec(ctx, query,
		m.ChatID, m.UserID, m.Role,
		m.CanAddMembers, m.CanPinMessages, m.CanDeleteMessages, m.CanSendMessages, m.JoinedAt,
	)
	return err
}

func (r *MembershipRepo) Add(ctx context.Context, m *domain.Membership) error {
	query := `
		INSERT INTO memberships (chat_id, user_id, role,
			can_add_members, can_pin_messages, can_delete_messages, can_send_messages, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		m.ChatID, m.UserID, m.Role,
		m.CanAddMembers, m.CanPinMessages, m.CanDeleteMessages, m.CanSendMessages, m.JoinedAt,
	)
	return err
}

func (r *MembershipRepo) Remove(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM memberships WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	return err
}

func (r *MembershipRepo) Get(ctx context.Context, chatID, userID uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT chat_id, user_id, role,
			can_add_members, can_pin_messages, can_delete_messages, can_send_messages, joined_at
		FROM memberships WHERE chat_id = $1 AND user_id = $2`
	var m domain.Membership
	err := r.pool.QueryRow(ctx, query, chatID, userID).Scan(
		&m.ChatID, &m.UserID, &m.Role,
		&m.CanAddMembers, &m.CanPinMessages, &m.CanDeleteMessages, &m.CanSendMessages, &m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &m, err
}

func (r *MembershipRepo) List(ctx context.Context, chatID uuid.UUID) ([]domain.Membership, error) {
	query := `
		SELECT m.chat_id, m.user_id, m.role,
			m.can_add_members, m.can_pin_messages, m.can_delete_messages, m.can_send_messages,
			m.joined_at, u.username, TRIM(u.first_name || ' ' || u.last_name)
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.joined_at`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(
			&m.ChatID, &m.UserID, &m.Role,
			&m.CanAddMembers, &m.CanPinMessages, &m.CanDeleteMessages, &m.CanSendMessages,
			&m.JoinedAt, &m.Username, &m.DisplayName,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *MembershipRepo) ListUserIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM memberships WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MembershipRepo) Update(ctx context.Context, m *domain.Membership) error {
	query := `
		UPDATE memberships SET role = $1,
			can_add_members = $2, can_pin_messages = $3,
			can_delete_messages = $4, can_send_messages = $5
		WHERE chat_id = $6 AND user_id = $7`
	_, err := r.pool.Exec(ctx, query,
		m.Role, m.CanAddMembers, m.CanPinMessages, m.CanDeleteMessages, m.CanSendMessages,
		m.ChatID, m.UserID,
	)
	return err
}

func (r *MembershipRepo) CountAdmins(ctx context.Context, chatID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE chat_id = $1 AND role = 'admin'`, chatID,
	).Scan(&n)
	return n, err
}
