// Package reputation persists per-(community, user) scores and the append-only
// reputation event log.
package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Score bounds. No event may move a score outside this range.
const (
	MinScore     = 300.0
	MaxScore     = 850.0
	DefaultScore = 600.0
)

// Record is one row of the reputation table.
type Record struct {
	CommunityID  string
	UserID       string
	Score        float64
	TotalEvents  int64
	LastActivity time.Time
}

// Event is one row of the append-only event log.
type Event struct {
	CommunityID string
	UserID      string
	EntityID    string
	EventName   string
	EventScore  float64
	EventData   map[string]any
	EventID     string
	ProcessedAt time.Time
}

// Repository reads and writes reputation state. Writes go through the primary;
// reads may use the replica when configured.
type Repository struct {
	DB      *sql.DB
	Replica *sql.DB
}

// NewRepository creates a Repository. replica may be nil.
func NewRepository(db, replica *sql.DB) *Repository {
	return &Repository{DB: db, Replica: replica}
}

func (r *Repository) reader() *sql.DB {
	if r.Replica != nil {
		return r.Replica
	}
	return r.DB
}

// Get returns the current record, or sql.ErrNoRows when the user has none.
func (r *Repository) Get(ctx context.Context, communityID, userID string) (*Record, error) {
	row := r.reader().QueryRowContext(ctx, `
		SELECT community_id, user_id, score, total_events, last_activity
		FROM reputation
		WHERE community_id = $1 AND user_id = $2
	`, communityID, userID)
	var rec Record
	if err := row.Scan(&rec.CommunityID, &rec.UserID, &rec.Score, &rec.TotalEvents, &rec.LastActivity); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ApplyEvent atomically records one reputation event and applies its delta.
// The event log insert dedupes on (community_id, event_id); a replayed event
// returns applied=false with the current score and no side-effects.
func (r *Repository) ApplyEvent(ctx context.Context, ev *Event) (newScore float64, applied bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	data, err := json.Marshal(ev.EventData)
	if err != nil {
		return 0, false, fmt.Errorf("marshal event data: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (community_id, user_id, entity_id, event_name, event_score, event_data, event_id, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (community_id, event_id) DO NOTHING
	`, ev.CommunityID, ev.UserID, ev.EntityID, ev.EventName, ev.EventScore, data, ev.EventID)
	if err != nil {
		return 0, false, fmt.Errorf("insert event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Replay: report the current score untouched.
		_ = tx.Rollback()
		current, gerr := r.Get(ctx, ev.CommunityID, ev.UserID)
		if gerr != nil {
			if errors.Is(gerr, sql.ErrNoRows) {
				return DefaultScore, false, nil
			}
			return 0, false, gerr
		}
		return current.Score, false, nil
	}

	var score float64
	row := tx.QueryRowContext(ctx, `
		SELECT score FROM reputation
		WHERE community_id = $1 AND user_id = $2
		FOR UPDATE
	`, ev.CommunityID, ev.UserID)
	switch scanErr := row.Scan(&score); {
	case scanErr == nil:
	case errors.Is(scanErr, sql.ErrNoRows):
		// Two first-ever events can race past the locking select; the
		// conflict clause lets the loser fall through to the re-read,
		// which then locks whichever row landed.
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO reputation (community_id, user_id, score, total_events, last_activity)
			VALUES ($1, $2, $3, 0, NOW())
			ON CONFLICT (community_id, user_id) DO NOTHING
		`, ev.CommunityID, ev.UserID, DefaultScore); err != nil {
			return 0, false, fmt.Errorf("create reputation: %w", err)
		}
		if err = tx.QueryRowContext(ctx, `
			SELECT score FROM reputation
			WHERE community_id = $1 AND user_id = $2
			FOR UPDATE
		`, ev.CommunityID, ev.UserID).Scan(&score); err != nil {
			return 0, false, fmt.Errorf("load reputation: %w", err)
		}
	default:
		err = fmt.Errorf("load reputation: %w", scanErr)
		return 0, false, err
	}

	newScore = Clamp(score + ev.EventScore)
	if _, err = tx.ExecContext(ctx, `
		UPDATE reputation
		SET score = $3, total_events = total_events + 1, last_activity = NOW()
		WHERE community_id = $1 AND user_id = $2
	`, ev.CommunityID, ev.UserID, newScore); err != nil {
		return 0, false, fmt.Errorf("update reputation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return newScore, true, nil
}

// GetWeight returns the community override for an event name, or
// sql.ErrNoRows when no row exists.
func (r *Repository) GetWeight(ctx context.Context, communityID, eventName string) (float64, error) {
	var weight float64
	err := r.reader().QueryRowContext(ctx, `
		SELECT weight FROM weights
		WHERE community_id = $1 AND event_type = $2
	`, communityID, eventName).Scan(&weight)
	if err != nil {
		return 0, err
	}
	return weight, nil
}

// DecayWarnings ages out warn entries older than the configured decay window.
func (r *Repository) DecayWarnings(ctx context.Context, decayDays int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE events SET event_data = event_data || '{"decayed": true}'::jsonb
		WHERE event_name = 'warn'
		  AND processed_at < NOW() - ($1 || ' days')::interval
		  AND NOT (event_data ? 'decayed')
	`, decayDays)
	if err != nil {
		return 0, fmt.Errorf("decay warnings: %w", err)
	}
	return res.RowsAffected()
}

// CountModerationEvents returns how many moderation events (warn, timeout,
// kick, ban) are on record for the user. Drives escalation ladders.
func (r *Repository) CountModerationEvents(ctx context.Context, communityID, userID string) (int, error) {
	var count int
	err := r.reader().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE community_id = $1 AND user_id = $2
		  AND event_name IN ('warn', 'timeout', 'kick', 'ban')
		  AND NOT (event_data ? 'decayed')
	`, communityID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count moderation events: %w", err)
	}
	return count, nil
}
