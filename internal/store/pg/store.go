package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizconnect/internal/domain"
	"bizconnect/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tasks (id, user_id, customer_phone, customer_name, message_content,
			type, status, priority, scheduled_at, image_url, is_mms, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.UserID, t.CustomerPhone, nullIfEmpty(t.CustomerName), t.MessageContent,
		string(t.Type), string(t.Status), t.Priority, t.ScheduledAt, nullIfEmpty(t.ImageURL),
		t.IsMMS, t.CreatedAt)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, user_id, customer_phone, COALESCE(customer_name,''), message_content,
		       type, status, priority, scheduled_at, COALESCE(image_url,''), is_mms,
		       created_at, updated_at, completed_at
		FROM tasks WHERE id=$1
	`, id)
	var t domain.Task
	var typ, status string
	err := row.Scan(&t.ID, &t.UserID, &t.CustomerPhone, &t.CustomerName, &t.MessageContent,
		&typ, &status, &t.Priority, &t.ScheduledAt, &t.ImageURL, &t.IsMMS,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, in store.StatusUpdate) error {
	var completed *time.Time
	if in.Status == domain.StatusCompleted {
		now := in.Now
		completed = &now
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE tasks SET status=$2, last_error=$3, updated_at=$4,
		       completed_at=COALESCE($5, completed_at)
		WHERE id=$1
	`, in.ID, string(in.Status), nullIfEmpty(in.LastError), in.Now, completed)
	return err
}

func (s *Store) ListRecentPending(ctx context.Context, userID string, since, now time.Time) ([]domain.Task, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, customer_phone, COALESCE(customer_name,''), message_content,
		       type, status, priority, scheduled_at, COALESCE(image_url,''), is_mms,
		       created_at, updated_at, completed_at
		FROM tasks
		WHERE user_id=$1 AND status='pending' AND created_at > $2
		  AND (scheduled_at IS NULL OR scheduled_at <= $3)
		ORDER BY created_at
	`, userID, since, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var typ, status string
		if err := rows.Scan(&t.ID, &t.UserID, &t.CustomerPhone, &t.CustomerName, &t.MessageContent,
			&typ, &status, &t.Priority, &t.ScheduledAt, &t.ImageURL, &t.IsMMS,
			&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		t.Type = domain.TaskType(typ)
		t.Status = domain.TaskStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetCallbackConfig(ctx context.Context, userID string) (domain.CallbackConfig, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT global_enabled,
		       ended_enabled,  COALESCE(ended_message,''),  COALESCE(ended_image,''),
		       missed_enabled, COALESCE(missed_message,''), COALESCE(missed_image,''),
		       busy_enabled,   COALESCE(busy_message,''),   COALESCE(busy_image,''),
		       business_card_enabled, COALESCE(business_card_image,'')
		FROM callback_configs WHERE user_id=$1
	`, userID)
	var c domain.CallbackConfig
	err := row.Scan(&c.GlobalEnabled,
		&c.Ended.Enabled, &c.Ended.Message, &c.Ended.ImageURL,
		&c.Missed.Enabled, &c.Missed.Message, &c.Missed.ImageURL,
		&c.Busy.Enabled, &c.Busy.Message, &c.Busy.ImageURL,
		&c.BusinessCardEnabled, &c.BusinessCardImage)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CallbackConfig{}, false, nil
	}
	if err != nil {
		return domain.CallbackConfig{}, false, err
	}
	return c, true, nil
}

// FindCustomerByPhone matches on the normalized_phone column, which the
// customer-data service keeps indexed.
func (s *Store) FindCustomerByPhone(ctx context.Context, userID, normalizedPhone string) (domain.Customer, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, user_id, name, phone, COALESCE(group_name,''), COALESCE(industry,''),
		       COALESCE(notes,''), COALESCE(birthday,''), COALESCE(anniversary,'')
		FROM customers WHERE user_id=$1 AND normalized_phone=$2
	`, userID, normalizedPhone)
	var c domain.Customer
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.GroupName, &c.Industry,
		&c.Notes, &c.Birthday, &c.Anniversary)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, false, nil
	}
	if err != nil {
		return domain.Customer{}, false, err
	}
	return c, true, nil
}

func (s *Store) LookupPreviewURL(ctx context.Context, imageURL string) (string, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT preview_url FROM image_previews WHERE source_url=$1`, imageURL)
	var preview string
	err := row.Scan(&preview)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return preview, true, nil
}

func (s *Store) GetDailyLimit(ctx context.Context, userID, date string) (domain.DailyLimitRecord, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT user_id, day, sent_count, limit_mode FROM daily_limits
		WHERE user_id=$1 AND day=$2
	`, userID, date)
	var rec domain.DailyLimitRecord
	var mode string
	err := row.Scan(&rec.UserID, &rec.Date, &rec.SentCount, &mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyLimitRecord{}, false, nil
	}
	if err != nil {
		return domain.DailyLimitRecord{}, false, err
	}
	rec.LimitMode = domain.LimitMode(mode)
	return rec, true, nil
}

func (s *Store) PutDailyLimit(ctx context.Context, rec domain.DailyLimitRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO daily_limits (user_id, day, sent_count, limit_mode, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (user_id, day)
		DO UPDATE SET sent_count=$3, limit_mode=$4, updated_at=now()
	`, rec.UserID, rec.Date, rec.SentCount, string(rec.LimitMode))
	return err
}

// IncrementSentCount bumps today's counter server-side so concurrent writers
// cannot lose updates.
func (s *Store) IncrementSentCount(ctx context.Context, userID, date string) (int, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO daily_limits (user_id, day, sent_count, limit_mode, updated_at)
		VALUES ($1,$2,1,'safe',now())
		ON CONFLICT (user_id, day)
		DO UPDATE SET sent_count = daily_limits.sent_count + 1, updated_at=now()
		RETURNING sent_count
	`, userID, date)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) InsertAttempt(ctx context.Context, in store.Attempt) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO send_attempts (task_id, result, error_msg, retry_count, attempted_at)
		VALUES ($1,$2,$3,$4,$5)
	`, in.TaskID, in.Result, nullIfEmpty(in.ErrorMsg), in.RetryCount, in.At)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
