package db

import (
	"fmt"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertModerator = `INSERT INTO moderators(id, magazine_id, user_id, added_by_id, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectModerator = `SELECT id, magazine_id, user_id, added_by_id, created_at FROM moderators
		WHERE magazine_id = ? AND user_id = ?`
	sqlDeleteModerator = `DELETE FROM moderators WHERE id = ?`

	banColumns      = `id, magazine_id, user_id, banned_by_id, reason, expired_at, created_at`
	sqlInsertBan    = `INSERT INTO magazine_bans(` + banColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateBan    = `UPDATE magazine_bans SET reason = ?, expired_at = ? WHERE id = ?`
	sqlSelectBans   = `SELECT ` + banColumns + ` FROM magazine_bans WHERE magazine_id = ? AND user_id = ? ORDER BY created_at DESC`
	sqlInsertReport = `INSERT INTO reports(id, magazine_id, content_id, reporter_id, reason, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectReports = `SELECT id, magazine_id, content_id, reporter_id, reason, ap_id, created_at
		FROM reports WHERE content_id = ? ORDER BY created_at, rowid`
	sqlInsertMagazineLog = `INSERT INTO magazine_logs(id, magazine_id, actor_id, type, content_id, user_id, ban_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectMagazineLogs = `SELECT id, magazine_id, actor_id, type, content_id, user_id, ban_id, created_at
		FROM magazine_logs WHERE magazine_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
)

func (t *Tx) ReadModerator(magazineId, userId uuid.UUID) (*domain.Moderator, error) {
	var m domain.Moderator
	err := t.queryRow(sqlSelectModerator, magazineId, userId).Scan(
		&m.Id, &m.MagazineId, &m.UserId, &m.AddedById, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (t *Tx) CreateModerator(m *domain.Moderator) error {
	_, err := t.exec(sqlInsertModerator, m.Id, m.MagazineId, m.UserId, m.AddedById, utc(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert moderator: %w", err)
	}
	return nil
}

func (t *Tx) DeleteModerator(id uuid.UUID) error {
	return expectRow(t.exec(sqlDeleteModerator, id))
}

// ReadActiveBan returns the ban of a user in a magazine that is in force at now.
func (t *Tx) ReadActiveBan(magazineId, userId uuid.UUID, now time.Time) (*domain.MagazineBan, error) {
	rows, err := t.query(sqlSelectBans, magazineId, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.MagazineBan
		if err := rows.Scan(&b.Id, &b.MagazineId, &b.UserId, &b.BannedById, &b.Reason, &b.ExpiredAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.IsActive(now) {
			return &b, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return nil, domain.ErrNotFound
}

func (t *Tx) CreateBan(b *domain.MagazineBan) error {
	_, err := t.exec(sqlInsertBan, b.Id, b.MagazineId, b.UserId, b.BannedById, b.Reason, utc(b.ExpiredAt), utc(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ban: %w", err)
	}
	return nil
}

func (t *Tx) UpdateBan(b *domain.MagazineBan) error {
	return expectRow(t.exec(sqlUpdateBan, b.Reason, utc(b.ExpiredAt), b.Id))
}

func (t *Tx) CreateReport(r *domain.Report) error {
	_, err := t.exec(sqlInsertReport, r.Id, r.MagazineId, r.ContentId, r.ReporterId, r.Reason, r.ApId, utc(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// ReadReports returns the reports filed against a content subject, oldest first.
func (t *Tx) ReadReports(contentId uuid.UUID) ([]domain.Report, error) {
	rows, err := t.query(sqlSelectReports, contentId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.Id, &r.MagazineId, &r.ContentId, &r.ReporterId, &r.Reason, &r.ApId, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, mapError(rows.Err())
}

func (t *Tx) CreateMagazineLog(l *domain.MagazineLog) error {
	_, err := t.exec(sqlInsertMagazineLog,
		l.Id, l.MagazineId, l.ActorId, string(l.Type), l.ContentId, l.UserId, l.BanId, utc(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert magazine log: %w", err)
	}
	return nil
}

// ReadMagazineLogs returns the newest moderation log entries of a magazine.
func (t *Tx) ReadMagazineLogs(magazineId uuid.UUID, limit int) ([]domain.MagazineLog, error) {
	rows, err := t.query(sqlSelectMagazineLogs, magazineId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.MagazineLog
	for rows.Next() {
		var l domain.MagazineLog
		var typ string
		if err := rows.Scan(&l.Id, &l.MagazineId, &l.ActorId, &typ, &l.ContentId, &l.UserId, &l.BanId, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = domain.MagazineLogType(typ)
		logs = append(logs, l)
	}
	return logs, mapError(rows.Err())
}
