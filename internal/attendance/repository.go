package attendance

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	dbpkg "github.com/xaitan80/darts-planner/internal/db"
)

const (
	StatusConfirmed = "confirmed"

	// ReadyThreshold is how many confirmations make a match playable.
	ReadyThreshold = 4
	sampleNames    = 4
	historyLimit   = 200
)

var ErrMatchNotFound = errors.New("match not found")

type Attendance struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	MatchID        int64     `json:"match_id"`
	UserID         int64     `json:"user_id"`
	Status         string    `json:"status"`
	Comment        *string   `json:"comment"`
	NicknameAtTime *string   `json:"nickname_at_time"`
	UpdatedAt      time.Time `json:"updated_at"`
	UpdatedBy      *int64    `json:"updated_by"`
}

func (Attendance) TableName() string { return "attendance" }

// AttendanceHistory is one confirm/unconfirm transition. A nil status
// means "no row".
type AttendanceHistory struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	AttendanceID int64     `json:"attendance_id"`
	MatchID      int64     `json:"match_id"`
	UserID       int64     `json:"user_id"`
	OldStatus    *string   `json:"old_status"`
	NewStatus    *string   `json:"new_status"`
	Comment      *string   `json:"comment"`
	ChangedAt    time.Time `json:"changed_at"`
	ChangedBy    *int64    `json:"changed_by"`
}

func (AttendanceHistory) TableName() string { return "attendance_history" }

// Summary is the per-match confirmation overview shown on the calendar.
type Summary struct {
	Confirmed  int        `json:"confirmed"`
	Names      []string   `json:"names"`
	LastUpdate *time.Time `json:"last_update"`
}

func (s Summary) Ready() bool { return s.Confirmed >= ReadyThreshold }

// HistoryEntry is a history row joined with user and match details.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	ChangedAt     time.Time `json:"changed_at"`
	Username      *string   `json:"username"`
	MatchNumber   *int64    `json:"match_number"`
	MatchDate     *string   `json:"match_date"`
	OpponentsTeam *string   `json:"opponents_team"`
	OldStatus     *string   `json:"old_status"`
	NewStatus     *string   `json:"new_status"`
	Comment       *string   `json:"comment"`
	ChangedByUser *string   `json:"changed_by_user"`
}

type Repository struct {
	db    *gorm.DB
	retry dbpkg.RetryPolicy
	now   func() time.Time
}

func NewRepository(db *gorm.DB, retry dbpkg.RetryPolicy) *Repository {
	return &Repository{db: db, retry: retry, now: func() time.Time { return time.Now().UTC() }}
}

// SetConfirmed confirms or withdraws userID's attendance at matchID and
// records the transition. changed is false when the state already matched.
func (r *Repository) SetConfirmed(ctx context.Context, matchID, userID int64, nickname *string, confirmed bool) (changed bool, err error) {
	err = dbpkg.WithRetry(ctx, r.retry, func() error {
		changed = false
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Table("matches").Where("id = ?", matchID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrMatchNotFound
			}

			var existing Attendance
			res := tx.Where("match_id = ? AND user_id = ? AND status = ?", matchID, userID, StatusConfirmed).
				Limit(1).Find(&existing)
			if res.Error != nil {
				return res.Error
			}
			found := res.RowsAffected > 0
			now := r.now()
			status := StatusConfirmed

			switch {
			case confirmed && !found:
				a := Attendance{
					MatchID: matchID, UserID: userID, Status: StatusConfirmed,
					NicknameAtTime: nickname, UpdatedAt: now, UpdatedBy: &userID,
				}
				if err := tx.Create(&a).Error; err != nil {
					return err
				}
				changed = true
				return tx.Create(&AttendanceHistory{
					AttendanceID: a.ID, MatchID: matchID, UserID: userID,
					NewStatus: &status, ChangedAt: now, ChangedBy: &userID,
				}).Error
			case !confirmed && found:
				if err := tx.Delete(&Attendance{}, existing.ID).Error; err != nil {
					return err
				}
				changed = true
				return tx.Create(&AttendanceHistory{
					AttendanceID: existing.ID, MatchID: matchID, UserID: userID,
					OldStatus: &status, ChangedAt: now, ChangedBy: &userID,
				}).Error
			}
			return nil
		})
	})
	return changed, err
}

// Summaries returns a Summary for every match that has attendance or
// history rows. Matches with neither are absent from the map.
func (r *Repository) Summaries(ctx context.Context) (map[int64]Summary, error) {
	return dbpkg.Retry(ctx, r.retry, func() (map[int64]Summary, error) {
		db := r.db.WithContext(ctx)
		out := map[int64]Summary{}

		var confirmed []struct {
			MatchID  int64
			Nickname *string
			Username string
		}
		err := db.Table("attendance a").
			Select("a.match_id, u.nickname, u.username").
			Joins("JOIN users u ON u.id = a.user_id").
			Where("a.status = ?", StatusConfirmed).
			Order("a.match_id, a.updated_at DESC").
			Scan(&confirmed).Error
		if err != nil {
			return nil, err
		}
		for _, c := range confirmed {
			s := out[c.MatchID]
			s.Confirmed++
			if len(s.Names) < sampleNames {
				name := c.Username
				if c.Nickname != nil && *c.Nickname != "" {
					name = *c.Nickname
				}
				s.Names = append(s.Names, name)
			}
			out[c.MatchID] = s
		}

		var history []AttendanceHistory
		if err := db.Select("match_id, changed_at").Order("changed_at DESC").Find(&history).Error; err != nil {
			return nil, err
		}
		for _, h := range history {
			s := out[h.MatchID]
			if s.LastUpdate == nil {
				t := h.ChangedAt
				s.LastUpdate = &t
			}
			out[h.MatchID] = s
		}
		return out, nil
	})
}

// ConfirmedBy returns the set of match ids userID has confirmed.
func (r *Repository) ConfirmedBy(ctx context.Context, userID int64) (map[int64]bool, error) {
	return dbpkg.Retry(ctx, r.retry, func() (map[int64]bool, error) {
		var ids []int64
		err := r.db.WithContext(ctx).Model(&Attendance{}).
			Where("user_id = ? AND status = ?", userID, StatusConfirmed).
			Pluck("match_id", &ids).Error
		if err != nil {
			return nil, err
		}
		out := make(map[int64]bool, len(ids))
		for _, id := range ids {
			out[id] = true
		}
		return out, nil
	})
}

// History returns the most recent transitions, newest first.
func (r *Repository) History(ctx context.Context) ([]HistoryEntry, error) {
	return dbpkg.Retry(ctx, r.retry, func() ([]HistoryEntry, error) {
		var out []HistoryEntry
		err := r.db.WithContext(ctx).Raw(`
			SELECT ah.id, ah.changed_at, u.username, m.match_number, m.date AS match_date,
			       m.opponents_team, ah.old_status, ah.new_status, ah.comment,
			       changer.username AS changed_by_user
			FROM attendance_history ah
			LEFT JOIN users u ON ah.user_id = u.id
			LEFT JOIN matches m ON ah.match_id = m.id
			LEFT JOIN users changer ON ah.changed_by = changer.id
			ORDER BY ah.changed_at DESC, ah.id DESC
			LIMIT ?`, historyLimit).Scan(&out).Error
		return out, err
	})
}
