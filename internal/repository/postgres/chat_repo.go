package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkresic/strand/internal/domain"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

const chatColumns = `id, kind, name, avatar_ref, wallpaper_ref, pinned, archived, muted,
	invite_token, settings, created_by, created_at, updated_at`

func (r *ChatRepo) Create(ctx context.Context, chat *domain.Chat, creator *domain.Membership) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chats (id, kind, name, avatar_ref, wallpaper_ref, pinned, archived, muted,
			invite_token, settings, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, query,
		chat.ID, chat.Kind, chat.Name, chat.AvatarRef, chat.WallpaperRef,
		chat.Pinned, chat.Archived, chat.Muted, chat.InviteToken, chat.Settings,
		chat.CreatedBy, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := insertMembership(ctx, tx, creator); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *ChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error) {
	return r.scanChat(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
}

func (r *ChatRepo) GetByInviteToken(ctx context.Context, token string) (*domain.Chat, error) {
	return r.scanChat(ctx, `SELECT `+chatColumns+` FROM chats WHERE invite_token = $1`, token)
}

// FindOrCreatePersonal resolves the one canonical personal chat for a user
// pair. The unique index on (user_lo, user_hi) where kind='personal' makes a
// concurrent duplicate insert lose, in which case we fall back to the lookup.
func (r *ChatRepo) FindOrCreatePersonal(ctx context.Context, requester, other *domain.User) (uuid.UUID, bool, error) {
	lo, hi := canonicalPair(requester.ID, other.ID)

	if id, err := r.lookupPersonal(ctx, lo, hi); err != nil {
		return uuid.Nil, false, err
	} else if id != uuid.Nil {
		return id, false, nil
	}

	id, err := r.insertPersonal(ctx, requester, other, lo, hi)
	if err == nil {
		return id, true, nil
	}
	if !isDuplicateError(err) {
		return uuid.Nil, false, fmt.Errorf("creating personal chat: %w", err)
	}

	// Lost the race: the other direction created it first.
	id, err = r.lookupPersonal(ctx, lo, hi)
	if err != nil {
		return uuid.Nil, false, err
	}
	if id == uuid.Nil {
		return uuid.Nil, false, errors.New("personal chat vanished after duplicate insert")
	}
	return id, false, nil
}

func (r *ChatRepo) lookupPersonal(ctx context.Context, lo, hi uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM chats WHERE kind = 'personal' AND user_lo = $1 AND user_hi = $2`,
		lo, hi,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}

func (r *ChatRepo) insertPersonal(ctx context.Context, requester, other *domain.User, lo, hi uuid.UUID) (uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	chatID := uuid.New()

	// The stored name is a creation-time snapshot of the counterpart; the
	// directory resolves the live identity at display time.
	query := `
		INSERT INTO chats (id, kind, name, user_lo, user_hi, created_by, created_at, updated_at)
		VALUES ($1, 'personal', $2, $3, $4, $5, $6, $6)`
	_, err = tx.Exec(ctx, query, chatID, other.DisplayName(), lo, hi, requester.ID, now)
	if err != nil {
		return uuid.Nil, err
	}

	for _, userID := range []uuid.UUID{requester.ID, other.ID} {
		m := &domain.Membership{
			ChatID:            chatID,
			UserID:            userID,
			Role:              domain.RoleAdmin,
			CanAddMembers:     false,
			CanPinMessages:    true,
			CanDeleteMessages: true,
			CanSendMessages:   true,
			JoinedAt:          now,
		}
		if err := insertMembership(ctx, tx, m); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return chatID, nil
}

const summaryColumns = `c.id, c.kind, c.name, c.avatar_ref, c.wallpaper_ref,
	c.pinned, c.archived, c.muted, c.invite_token, c.settings,
	c.created_by, c.created_at, c.updated_at,
	ou.id, ou.first_name, ou.last_name, ou.avatar_ref, ou.online,
	lm.content, lm.created_at`

const summaryJoins = `
	FROM chats c
	JOIN memberships m ON m.chat_id = c.id AND m.user_id = $1
	LEFT JOIN memberships om ON c.kind = 'personal' AND om.chat_id = c.id AND om.user_id <> $1
	LEFT JOIN users ou ON ou.id = om.user_id
	LEFT JOIN LATERAL (
		SELECT content, created_at FROM messages
		WHERE chat_id = c.id AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	) lm ON true`

func (r *ChatRepo) ListSummaries(ctx context.Context, viewerID uuid.UUID) ([]domain.ChatSummary, error) {
	query := `SELECT ` + summaryColumns + summaryJoins + `
		ORDER BY c.pinned DESC, c.updated_at DESC, c.id`

	rows, err := r.pool.Query(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.ChatSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
	}
	return summaries, rows.Err()
}

func (r *ChatRepo) GetSummary(ctx context.Context, chatID, viewerID uuid.UUID) (*domain.ChatSummary, error) {
	query := `SELECT ` + summaryColumns + summaryJoins + ` WHERE c.id = $2`

	rows, err := r.pool.Query(ctx, query, viewerID, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSummary(rows)
}

func scanSummary(rows pgx.Rows) (*domain.ChatSummary, error) {
	var s domain.ChatSummary
	var otherID *uuid.UUID
	var otherFirst, otherLast *string
	var otherAvatar *string
	var otherOnline *bool

	if err := rows.Scan(
		&s.ID, &s.Kind, &s.Name, &s.AvatarRef, &s.WallpaperRef,
		&s.Pinned, &s.Archived, &s.Muted, &s.InviteToken, &s.Settings,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
		&otherID, &otherFirst, &otherLast, &otherAvatar, &otherOnline,
		&s.LastMessage, &s.LastMessageAt,
	); err != nil {
		return nil, err
	}

	s.DisplayName = s.Name
	s.DisplayAvatarRef = s.AvatarRef
	if s.Kind == domain.ChatPersonal && otherID != nil {
		other := domain.User{ID: *otherID}
		if otherFirst != nil {
			other.FirstName = *otherFirst
		}
		if otherLast != nil {
			other.LastName = *otherLast
		}
		s.DisplayName = other.DisplayName()
		s.DisplayAvatarRef = otherAvatar
		s.CounterpartID = otherID
		if otherOnline != nil {
			s.CounterpartOnline = *otherOnline
		}
	}
	return &s, nil
}

func (r *ChatRepo) Update(ctx context.Context, chat *domain.Chat) error {
	query := `
		UPDATE chats SET name = $1, avatar_ref = $2, wallpaper_ref = $3,
			pinned = $4, archived = $5, muted = $6, invite_token = $7, settings = $8,
			updated_at = GREATEST(updated_at, $9)
		WHERE id = $10`
	_, err := r.pool.Exec(ctx, query,
		chat.Name, chat.AvatarRef, chat.WallpaperRef,
		chat.Pinned, chat.Archived, chat.Muted, chat.InviteToken, chat.Settings,
		time.Now(), chat.ID,
	)
	return err
}

func (r *ChatRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	// GREATEST keeps updated_at monotonically non-decreasing under
	// out-of-order writes.
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET updated_at = GREATEST(updated_at, $1) WHERE id = $2`, at, id)
	return err
}

func (r *ChatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return err
}

func (r *ChatRepo) scanChat(ctx context.Context, query string, arg any) (*domain.Chat, error) {
	var c domain.Chat
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Kind, &c.Name, &c.AvatarRef, &c.WallpaperRef,
		&c.Pinned, &c.Archived, &c.Muted, &c.InviteToken, &c.Settings,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &c, err
}

// canonicalPair orders a user pair so (A,B) and (B,A) address the same row.
func canonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
