package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, nullIfBlank(user.VerificationToken), user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userColumns+` WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userColumns+` WHERE LOWER(email)=LOWER($1)`, email))
}

const userColumns = `
	SELECT id, display_name, email, COALESCE(password_hash, ''), role, is_email_verified,
		COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
	FROM users`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Password resets

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Sessions and token revocation

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// Reports

const reportColumns = `
	SELECT r.id, r.title, r.description, r.category, r.severity, r.status,
		COALESCE(r.address, ''), r.latitude, r.longitude, r.project_id,
		r.reporter_id, r.reporter_name,
		(SELECT COUNT(*) FROM report_votes v WHERE v.report_id = r.id) AS vote_count,
		(SELECT COUNT(*) FROM report_comments c WHERE c.report_id = r.id) AS comment_count,
		r.created_at, r.updated_at
	FROM reports r`

func scanReport(scanner interface{ Scan(...any) error }) (Report, error) {
	var report Report
	err := scanner.Scan(
		&report.ID, &report.Title, &report.Description, &report.Category, &report.Severity,
		&report.Status, &report.Address, &report.Latitude, &report.Longitude, &report.ProjectID,
		&report.ReporterID, &report.ReporterName, &report.VoteCount, &report.CommentCount,
		&report.CreatedAt, &report.UpdatedAt,
	)
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, title, description, category, severity, status, address, latitude, longitude, project_id, reporter_id, reporter_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, report.ID, report.Title, report.Description, report.Category, report.Severity, report.Status,
		report.Address, report.Latitude, report.Longitude, report.ProjectID, report.ReporterID, report.ReporterName)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, reportColumns+` WHERE r.id=$1`, reportID))
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	query := reportColumns
	var clauses []string
	var args []any
	addClause := func(column string, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if filter.Status != "" {
		addClause("r.status", filter.Status)
	}
	if filter.Category != "" {
		addClause("r.category", filter.Category)
	}
	if filter.ProjectID != "" {
		addClause("r.project_id", filter.ProjectID)
	}
	if filter.ReporterID != "" {
		addClause("r.reporter_id", filter.ReporterID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, reportID, status, severity string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET status=$2, severity=COALESCE(NULLIF($3, ''), severity), updated_at=NOW() WHERE id=$1
	`, reportID, status, severity)
	if err != nil {
		return false, fmt.Errorf("update report status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update report status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) AssignReportProject(ctx context.Context, reportID string, projectID *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET project_id=$2, updated_at=NOW() WHERE id=$1
	`, reportID, projectID)
	if err != nil {
		return false, fmt.Errorf("assign report project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign report project rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, reportID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, reportID)
	if err != nil {
		return false, fmt.Errorf("delete report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete report rows: %w", err)
	}
	return affected > 0, nil
}

// ToggleReportVote adds the user's vote if absent, removes it if present, and
// returns the refreshed count along with the user's standing.
func (s *PostgresStore) ToggleReportVote(ctx context.Context, reportID, userID string) (int, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM report_votes WHERE report_id=$1 AND user_id=$2
	`, reportID, userID)
	if err != nil {
		return 0, false, fmt.Errorf("delete report vote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("delete report vote rows: %w", err)
	}
	hasVoted := false
	if affected == 0 {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO report_votes (report_id, user_id) VALUES ($1, $2)
			ON CONFLICT (report_id, user_id) DO NOTHING
		`, reportID, userID); err != nil {
			return 0, false, fmt.Errorf("insert report vote: %w", err)
		}
		hasVoted = true
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_votes WHERE report_id=$1`, reportID).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("count report votes: %w", err)
	}
	return count, hasVoted, nil
}

func (s *PostgresStore) HasVotedReport(ctx context.Context, reportID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM report_votes WHERE report_id=$1 AND user_id=$2)
	`, reportID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check report vote: %w", err)
	}
	return exists, nil
}

// Report comments

func (s *PostgresStore) InsertReportComment(ctx context.Context, comment ReportComment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_comments (id, report_id, author_id, author_name, body)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.ReportID, comment.AuthorID, comment.AuthorName, comment.Body)
	if err != nil {
		return fmt.Errorf("insert report comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReportComments(ctx context.Context, reportID string) ([]ReportComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, author_id, author_name, body, created_at
		FROM report_comments
		WHERE report_id=$1
		ORDER BY created_at DESC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report comments: %w", err)
	}
	defer rows.Close()

	var comments []ReportComment
	for rows.Next() {
		var comment ReportComment
		if err := rows.Scan(&comment.ID, &comment.ReportID, &comment.AuthorID, &comment.AuthorName, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// Projects

const projectColumns = `
	SELECT p.id, p.name, p.description, COALESCE(p.area, ''), p.status, p.created_by,
		(SELECT COUNT(*) FROM reports r WHERE r.project_id = p.id) AS report_count,
		p.created_at, p.updated_at
	FROM projects p`

func scanProject(scanner interface{ Scan(...any) error }) (Project, error) {
	var project Project
	err := scanner.Scan(
		&project.ID, &project.Name, &project.Description, &project.Area, &project.Status,
		&project.CreatedBy, &project.ReportCount, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, area, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.Name, project.Description, project.Area, project.Status, project.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, projectColumns+` WHERE p.id=$1`, projectID))
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, projectColumns+` ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description, area, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name=COALESCE(NULLIF($2, ''), name),
			description=COALESCE(NULLIF($3, ''), description),
			area=COALESCE(NULLIF($4, ''), area),
			status=COALESCE(NULLIF($5, ''), status),
			updated_at=NOW()
		WHERE id=$1
	`, projectID, name, description, area, status)
	if err != nil {
		return false, fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update project rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE reports SET project_id=NULL WHERE project_id=$1`, projectID); err != nil {
		return false, fmt.Errorf("detach project reports: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete project rows: %w", err)
	}
	return affected > 0, nil
}

// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, kind, report_id, message)
		VALUES ($1, $2, $3, $4)
	`, notification.UserID, notification.Kind, nullIfBlank(notification.ReportID), notification.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, COALESCE(report_id, ''), message, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.ReportID, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// Report photos

func (s *PostgresStore) InsertReportPhoto(ctx context.Context, photo ReportPhoto) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_photos (id, report_id, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, photo.ID, photo.ReportID, photo.ObjectKey, photo.ContentType, photo.SizeBytes, photo.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert report photo: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReportPhotos(ctx context.Context, reportID string) ([]ReportPhoto, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM report_photos
		WHERE report_id=$1
		ORDER BY created_at ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report photos: %w", err)
	}
	defer rows.Close()

	var photos []ReportPhoto
	for rows.Next() {
		var photo ReportPhoto
		if err := rows.Scan(&photo.ID, &photo.ReportID, &photo.ObjectKey, &photo.ContentType, &photo.SizeBytes, &photo.UploadedBy, &photo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report photo: %w", err)
		}
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// SummaryCounts returns open reports, resolved reports, and active projects.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	var open, resolved, activeProjects int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM reports WHERE status NOT IN ('RESOLVED', 'REJECTED')),
			(SELECT COUNT(*) FROM reports WHERE status = 'RESOLVED'),
			(SELECT COUNT(*) FROM projects WHERE status = 'ACTIVE')
	`).Scan(&open, &resolved, &activeProjects)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return open, resolved, activeProjects, nil
}

func nullIfBlank(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
