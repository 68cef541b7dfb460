package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"infracheck/api/internal/auth"
	"infracheck/api/internal/authpw"
	"infracheck/api/internal/config"
	"infracheck/api/internal/ledger"
	"infracheck/api/internal/rbac"
	"infracheck/api/internal/search"
	"infracheck/api/internal/store"
	"infracheck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateReportInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

type UpdateReportInput struct {
	Status    string  `json:"status"`
	Severity  string  `json:"severity"`
	ProjectID *string `json:"projectId"`
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Area        string `json:"area"`
}

type UpdateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Area        string `json:"area"`
	Status      string `json:"status"`
}

var allowedReportCategories = map[string]struct{}{
	"road":     {},
	"lighting": {},
	"water":    {},
	"waste":    {},
	"signage":  {},
	"other":    {},
}

var allowedReportSeverities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
}

var allowedReportStatuses = map[string]struct{}{
	"REPORTED":    {},
	"IN_REVIEW":   {},
	"IN_PROGRESS": {},
	"RESOLVED":    {},
	"REJECTED":    {},
}

var allowedProjectStatuses = map[string]struct{}{
	"PLANNED":   {},
	"ACTIVE":    {},
	"COMPLETED": {},
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertReport(context.Context, store.Report) error
	GetReport(context.Context, string) (store.Report, error)
	ListReports(context.Context, store.ReportFilter) ([]store.Report, error)
	UpdateReportStatus(context.Context, string, string, string) (bool, error)
	AssignReportProject(context.Context, string, *string) (bool, error)
	DeleteReport(context.Context, string) (bool, error)
	ToggleReportVote(context.Context, string, string) (int, bool, error)
	HasVotedReport(context.Context, string, string) (bool, error)
	InsertReportComment(context.Context, store.ReportComment) error
	ListReportComments(context.Context, string) ([]store.ReportComment, error)
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context) ([]store.Project, error)
	UpdateProject(context.Context, string, string, string, string, string) (bool, error)
	DeleteProject(context.Context, string) (bool, error)
	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	InsertReportPhoto(context.Context, store.ReportPhoto) error
	ListReportPhotos(context.Context, string) ([]store.ReportPhoto, error)
	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type mediaStore interface {
	Upload(ctx context.Context, objectName string, r io.Reader) (string, int64, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, objectName string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendStatusUpdateEmail(to, userName, reportTitle, newStatus, reportURL string) error
}

// ProjectLedger bundles the redis-backed project social state: votes,
// threaded comments, visibility and ownership overrides, plus the change
// bus they publish on and the raw keyed store for ad-hoc keys.
type ProjectLedger struct {
	Votes      *ledger.VoteLedger
	Comments   *ledger.CommentThread
	Visibility *ledger.VisibilityRegistry
	Ownership  *ledger.OwnershipRegistry
	Bus        *ledger.Bus
	KV         *ledger.Store
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	ledger   *ProjectLedger
	authpw   *authpw.Service
	search   *search.Service
	media    mediaStore
	email    mailer
}

func New(cfg config.Config, data dataStore, sessions sessionStore, projectLedger *ProjectLedger) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		ledger:   projectLedger,
	}
}

// WithAuthPassword attaches the email/password auth service.
func (s *Service) WithAuthPassword(svc *authpw.Service) *Service {
	s.authpw = svc
	return s
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

// WithMedia attaches photo storage. nil disables photo uploads.
func (s *Service) WithMedia(m mediaStore) *Service {
	s.media = m
	return s
}

// WithEmail attaches the SMTP notification mailer.
func (s *Service) WithEmail(m mailer) *Service {
	s.email = m
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ChangeBus exposes the ledger bus for callers that want to observe
// vote/comment/visibility changes in process.
func (s *Service) ChangeBus() *ledger.Bus {
	return s.ledger.Bus
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) CreateReport(ctx context.Context, session Session, input CreateReportInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if _, ok := allowedReportCategories[category]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid report category", nil)
	}
	severity := strings.ToLower(strings.TrimSpace(input.Severity))
	if severity == "" {
		severity = "medium"
	}
	if _, ok := allowedReportSeverities[severity]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "severity must be low, medium, or high", nil)
	}
	if input.Latitude < -90 || input.Latitude > 90 || input.Longitude < -180 || input.Longitude > 180 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid coordinates", nil)
	}

	report := store.Report{
		ID:           util.NewID("rep"),
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Category:     category,
		Severity:     severity,
		Status:       "REPORTED",
		Address:      strings.TrimSpace(input.Address),
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		ReporterID:   session.UserID,
		ReporterName: session.UserName,
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return nil, err
	}

	created, err := s.store.GetReport(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	s.indexReport(created)
	s.ledger.Bus.Publish(ledger.EventReportsChanged, nil)
	return reportPayload(created), nil
}

func (s *Service) ListReports(ctx context.Context, filter store.ReportFilter) (map[string]any, error) {
	reports, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, reportPayload(report))
	}
	return map[string]any{"reports": items}, nil
}

func (s *Service) GetReportDetail(ctx context.Context, reportID, viewerID string) (map[string]any, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListReportComments(ctx, reportID)
	if err != nil {
		return nil, err
	}
	hasVoted := false
	if viewerID != "" {
		hasVoted, err = s.store.HasVotedReport(ctx, reportID, viewerID)
		if err != nil {
			return nil, err
		}
	}

	payload := reportPayload(report)
	payload["hasVoted"] = hasVoted
	commentItems := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		commentItems = append(commentItems, map[string]any{
			"id":         comment.ID,
			"authorId":   comment.AuthorID,
			"authorName": comment.AuthorName,
			"body":       comment.Body,
			"createdAt":  comment.CreatedAt.Format(time.RFC3339),
		})
	}
	payload["comments"] = commentItems
	return payload, nil
}

func (s *Service) UpdateReport(ctx context.Context, session Session, reportID string, input UpdateReportInput) (map[string]any, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(strings.TrimSpace(input.Status))
	severity := strings.ToLower(strings.TrimSpace(input.Severity))
	if status != "" {
		if _, ok := allowedReportStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid report status", nil)
		}
	}
	if severity != "" {
		if _, ok := allowedReportSeverities[severity]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "severity must be low, medium, or high", nil)
		}
	}

	if status != "" || severity != "" {
		changed, err := s.store.UpdateReportStatus(ctx, reportID, firstNonBlank(status, report.Status), severity)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, sql.ErrNoRows
		}
	}

	if input.ProjectID != nil {
		projectID := input.ProjectID
		if strings.TrimSpace(*projectID) == "" {
			projectID = nil
		} else {
			if _, err := s.store.GetProject(ctx, *projectID); err != nil {
				if err == sql.ErrNoRows {
					return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId does not reference an existing project", nil)
				}
				return nil, err
			}
		}
		changed, err := s.store.AssignReportProject(ctx, reportID, projectID)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, sql.ErrNoRows
		}
	}

	if status != "" && status != report.Status {
		s.notifyStatusChange(ctx, report, status)
	}

	updated, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	s.indexReport(updated)
	s.ledger.Bus.Publish(ledger.EventReportsChanged, nil)
	return reportPayload(updated), nil
}

func (s *Service) DeleteReport(ctx context.Context, session Session, reportID string) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.ReporterID != session.UserID && !s.Can(session.Role, rbac.ActionTriage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the reporter or municipal staff can delete a report", nil)
	}

	// Photo rows go with the report via FK cascade, so collect the object
	// keys first and clean up the bucket after the delete commits.
	var photos []store.ReportPhoto
	if s.media != nil {
		listed, err := s.store.ListReportPhotos(ctx, reportID)
		if err != nil {
			log.Printf("media: list photos for report %s: %v", reportID, err)
		} else {
			photos = listed
		}
	}

	deleted, err := s.store.DeleteReport(ctx, reportID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	for _, photo := range photos {
		if err := s.media.Delete(ctx, photo.ObjectKey); err != nil {
			log.Printf("media: delete object %s: %v", photo.ObjectKey, err)
		}
	}
	if s.search != nil {
		s.search.DeleteReport(reportID)
	}
	s.ledger.Bus.Publish(ledger.EventReportsChanged, nil)
	return nil
}

func (s *Service) VoteReport(ctx context.Context, reportID, userID string) (map[string]any, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	count, hasVoted, err := s.store.ToggleReportVote(ctx, reportID, userID)
	if err != nil {
		return nil, err
	}
	s.ledger.Bus.Publish(ledger.EventReportVotesUpdated, ledger.VoteChange{
		EntityID: reportID,
		VoterID:  userID,
		Count:    count,
		HasVoted: hasVoted,
	})
	s.ledger.Bus.Publish(ledger.EventReportsChanged, nil)
	return map[string]any{"reportId": reportID, "count": count, "hasVoted": hasVoted}, nil
}

func (s *Service) CommentReport(ctx context.Context, session Session, reportID, body string) (map[string]any, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	comment := store.ReportComment{
		ID:       util.NewID("rct"),
		ReportID: reportID,
		AuthorID: session.UserID,
		Body:     text,
	}
	if err := s.store.InsertReportComment(ctx, comment); err != nil {
		return nil, err
	}
	if report.ReporterID != "" && report.ReporterID != session.UserID {
		_ = s.store.InsertNotification(ctx, store.Notification{
			UserID:   report.ReporterID,
			Kind:     "report_comment",
			ReportID: reportID,
			Message:  fmt.Sprintf("%s commented on %q", session.UserName, report.Title),
		})
	}
	return map[string]any{
		"id":         comment.ID,
		"reportId":   reportID,
		"authorId":   session.UserID,
		"authorName": session.UserName,
		"body":       text,
	}, nil
}

func (s *Service) notifyStatusChange(ctx context.Context, report store.Report, newStatus string) {
	if report.ReporterID == "" {
		return
	}
	_ = s.store.InsertNotification(ctx, store.Notification{
		UserID:   report.ReporterID,
		Kind:     "status_change",
		ReportID: report.ID,
		Message:  fmt.Sprintf("Your report %q is now %s", report.Title, newStatus),
	})

	if !s.SMTPConfigured() {
		return
	}
	reporter, err := s.store.GetUserByID(ctx, report.ReporterID)
	if err != nil || reporter.Email == "" {
		return
	}
	go func() {
		reportURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/reports/" + report.ID
		if err := s.email.SendStatusUpdateEmail(reporter.Email, reporter.DisplayName, report.Title, newStatus, reportURL); err != nil {
			log.Printf("email: status update for report %s: %v", report.ID, err)
		}
	}()
}

// SendVerificationMail emails the signup verification link. No-op when no
// mailer is configured; the register handler surfaces the token directly in
// that case.
func (s *Service) SendVerificationMail(to, userName, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	go func() {
		verifyURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/verify-email?token=" + url.QueryEscape(token)
		if err := s.email.SendVerificationEmail(to, userName, verifyURL); err != nil {
			log.Printf("email: verification for %s: %v", to, err)
		}
	}()
}

// SendPasswordResetMail emails a password reset link. No-op when no mailer is
// configured or the address has no account.
func (s *Service) SendPasswordResetMail(ctx context.Context, to, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	userName := ""
	if user, err := s.store.GetUserByEmail(ctx, to); err == nil {
		userName = user.DisplayName
	}
	go func() {
		resetURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/reset-password?token=" + url.QueryEscape(token)
		if err := s.email.SendPasswordResetEmail(to, userName, resetURL); err != nil {
			log.Printf("email: password reset for %s: %v", to, err)
		}
	}()
}

func (s *Service) indexReport(report store.Report) {
	if s.search == nil {
		return
	}
	projectID := ""
	if report.ProjectID != nil {
		projectID = *report.ProjectID
	}
	s.search.IndexReport(search.ReportRecord{
		ID:          report.ID,
		Title:       report.Title,
		Description: report.Description,
		Address:     report.Address,
		Category:    report.Category,
		Status:      report.Status,
		ProjectID:   projectID,
	})
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Area:        strings.TrimSpace(input.Area),
		Status:      "PLANNED",
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	s.ledger.Ownership.SetOwner(ctx, project.ID, session.UserID, session.UserName)
	s.indexProject(project)
	s.ledger.Bus.Publish(ledger.EventProjectsChanged, nil)
	return s.projectPayload(ctx, project, session.UserID), nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) (map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	canTriage := s.Can(session.Role, rbac.ActionTriage)
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		visible := s.projectVisible(ctx, project.ID)
		if !visible && !canTriage {
			continue
		}
		items = append(items, s.projectPayload(ctx, project, session.UserID))
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) GetProjectDetail(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !s.projectVisible(ctx, projectID) && !s.Can(session.Role, rbac.ActionTriage) {
		return nil, sql.ErrNoRows
	}
	payload := s.projectPayload(ctx, project, session.UserID)
	payload["comments"] = commentItems(s.ledger.Comments.List(ctx, projectID))
	return payload, nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID string, input UpdateProjectInput) (map[string]any, error) {
	status := strings.ToUpper(strings.TrimSpace(input.Status))
	if status != "" {
		if _, ok := allowedProjectStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid project status", nil)
		}
	}
	changed, err := s.store.UpdateProject(ctx, projectID,
		strings.TrimSpace(input.Name),
		strings.TrimSpace(input.Description),
		strings.TrimSpace(input.Area),
		status,
	)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, sql.ErrNoRows
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.indexProject(project)
	s.ledger.Bus.Publish(ledger.EventProjectsChanged, nil)
	return s.projectPayload(ctx, project, ""), nil
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	deleted, err := s.store.DeleteProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	s.ledger.Bus.Publish(ledger.EventProjectsChanged, nil)
	return nil
}

func (s *Service) VoteProject(ctx context.Context, projectID, voterID, direction string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	dir := 0
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up":
		dir = 1
	case "down":
		dir = -1
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "direction must be 'up' or 'down'", nil)
	}
	state := s.ledger.Votes.Vote(ctx, projectID, voterID, dir)
	return map[string]any{"projectId": projectID, "count": state.Count, "hasVoted": state.HasVoted}, nil
}

func (s *Service) ProjectVotes(ctx context.Context, projectID, viewerID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	entry := s.ledger.Votes.Entry(ctx, projectID)
	return map[string]any{
		"projectId": projectID,
		"count":     entry.Count,
		"hasVoted":  s.ledger.Votes.HasVoted(ctx, projectID, viewerID),
	}, nil
}

func (s *Service) ListProjectComments(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return map[string]any{
		"projectId": projectID,
		"comments":  commentItems(s.ledger.Comments.List(ctx, projectID)),
	}, nil
}

func (s *Service) AddProjectComment(ctx context.Context, session Session, projectID, text string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	comment := s.ledger.Comments.Add(ctx, projectID, trimmed, session.UserName, session.UserID)
	return commentItem(comment), nil
}

func (s *Service) ReplyProjectComment(ctx context.Context, session Session, projectID, parentID, text string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	comment, err := s.ledger.Comments.Reply(ctx, projectID, parentID, trimmed, session.UserName, session.UserID)
	if err != nil {
		return nil, err
	}
	return commentItem(comment), nil
}

func (s *Service) EditProjectComment(ctx context.Context, session Session, projectID, commentID, text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	if err := s.requireCommentAccess(ctx, session, projectID, commentID, false); err != nil {
		return nil, err
	}
	comment, err := s.ledger.Comments.Edit(ctx, projectID, commentID, trimmed)
	if err != nil {
		return nil, err
	}
	return commentItem(comment), nil
}

func (s *Service) DeleteProjectComment(ctx context.Context, session Session, projectID, commentID string) error {
	if err := s.requireCommentAccess(ctx, session, projectID, commentID, true); err != nil {
		return err
	}
	return s.ledger.Comments.Delete(ctx, projectID, commentID)
}

// requireCommentAccess lets the author act on their own comment; staff with
// triage rights may additionally delete.
func (s *Service) requireCommentAccess(ctx context.Context, session Session, projectID, commentID string, allowTriage bool) error {
	for _, comment := range s.ledger.Comments.List(ctx, projectID) {
		if comment.ID != commentID {
			continue
		}
		if comment.AuthorID == session.UserID {
			return nil
		}
		if allowTriage && s.Can(session.Role, rbac.ActionTriage) {
			return nil
		}
		return domainError(http.StatusForbidden, "FORBIDDEN", "not the comment author", nil)
	}
	return ledger.ErrCommentNotFound
}

func (s *Service) SetProjectVisibility(ctx context.Context, projectID string, visible bool) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.ledger.Visibility.SetVisible(ctx, projectID, visible)
	return s.projectPayload(ctx, project, ""), nil
}

// projectVisible merges the ledger override over the default. Absent
// override means visible.
func (s *Service) projectVisible(ctx context.Context, projectID string) bool {
	if visible, ok := s.ledger.Visibility.Visible(ctx, projectID); ok {
		return visible
	}
	return true
}

func (s *Service) projectPayload(ctx context.Context, project store.Project, viewerID string) map[string]any {
	entry := s.ledger.Votes.Entry(ctx, project.ID)
	ownerID := project.CreatedBy
	ownerName := ""
	if id, name, ok := s.ledger.Ownership.Owner(ctx, project.ID); ok {
		ownerID = id
		ownerName = name
	}
	payload := map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"area":        project.Area,
		"status":      project.Status,
		"reportCount": project.ReportCount,
		"ownerId":     ownerID,
		"ownerName":   ownerName,
		"visible":     s.projectVisible(ctx, project.ID),
		"votes":       entry.Count,
		"createdAt":   project.CreatedAt.Format(time.RFC3339),
	}
	if viewerID != "" {
		payload["hasVoted"] = s.ledger.Votes.HasVoted(ctx, project.ID, viewerID)
	}
	return payload
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Area:        project.Area,
		Status:      project.Status,
	})
}

func (s *Service) UploadReportPhoto(ctx context.Context, session Session, reportID string, r io.Reader) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "photo storage not configured", nil)
	}
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}

	photoID := util.NewID("pho")
	objectKey := reportID + "/" + photoID
	contentType, size, err := s.media.Upload(ctx, objectKey, r)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	photo := store.ReportPhoto{
		ID:          photoID,
		ReportID:    reportID,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	}
	if err := s.store.InsertReportPhoto(ctx, photo); err != nil {
		return nil, err
	}

	url, err := s.media.PresignedURL(ctx, objectKey, 15*time.Minute)
	if err != nil {
		log.Printf("media: presign %s: %v", objectKey, err)
		url = ""
	}
	return map[string]any{
		"id":          photo.ID,
		"reportId":    reportID,
		"contentType": contentType,
		"sizeBytes":   size,
		"url":         url,
	}, nil
}

func (s *Service) ListReportPhotos(ctx context.Context, reportID string) (map[string]any, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	photos, err := s.store.ListReportPhotos(ctx, reportID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(photos))
	for _, photo := range photos {
		url := ""
		if s.media != nil {
			if presigned, err := s.media.PresignedURL(ctx, photo.ObjectKey, 15*time.Minute); err == nil {
				url = presigned
			}
		}
		items = append(items, map[string]any{
			"id":          photo.ID,
			"reportId":    photo.ReportID,
			"contentType": photo.ContentType,
			"sizeBytes":   photo.SizeBytes,
			"uploadedBy":  photo.UploadedBy,
			"createdAt":   photo.CreatedAt.Format(time.RFC3339),
			"url":         url,
		})
	}
	return map[string]any{"reportId": reportID, "photos": items}, nil
}

const notificationsSeenKeyPrefix = "notifications:seen:"

func (s *Service) Notifications(ctx context.Context, userID string, limit int) (map[string]any, error) {
	notifications, err := s.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	s.ledger.KV.Load(ctx, notificationsSeenKeyPrefix+userID, &seen)

	unseen := 0
	items := make([]map[string]any, 0, len(notifications))
	for _, notification := range notifications {
		id := strconv.FormatInt(notification.ID, 10)
		if !seen[id] {
			unseen++
		}
		items = append(items, map[string]any{
			"id":        notification.ID,
			"kind":      notification.Kind,
			"reportId":  notification.ReportID,
			"message":   notification.Message,
			"seen":      seen[id],
			"createdAt": notification.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"notifications": items, "unseen": unseen}, nil
}

func (s *Service) MarkNotificationsSeen(ctx context.Context, userID string, ids []int64) map[string]any {
	seen := map[string]bool{}
	key := notificationsSeenKeyPrefix + userID
	s.ledger.KV.Load(ctx, key, &seen)
	for _, id := range ids {
		seen[strconv.FormatInt(id, 10)] = true
	}
	s.ledger.KV.Save(ctx, key, seen)
	return map[string]any{"ok": true, "seen": len(seen)}
}

func (s *Service) Search(ctx context.Context, q search.Query) (map[string]any, error) {
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": q.Text}, nil
	}
	response := s.search.Search(q)
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	open, resolved, activeProjects, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"openReports":     open,
		"resolvedReports": resolved,
		"activeProjects":  activeProjects,
	}, nil
}

func reportPayload(report store.Report) map[string]any {
	var projectID any
	if report.ProjectID != nil {
		projectID = *report.ProjectID
	}
	return map[string]any{
		"id":           report.ID,
		"title":        report.Title,
		"description":  report.Description,
		"category":     report.Category,
		"severity":     report.Severity,
		"status":       report.Status,
		"address":      report.Address,
		"latitude":     report.Latitude,
		"longitude":    report.Longitude,
		"projectId":    projectID,
		"reporterId":   report.ReporterID,
		"reporterName": report.ReporterName,
		"voteCount":    report.VoteCount,
		"commentCount": report.CommentCount,
		"createdAt":    report.CreatedAt.Format(time.RFC3339),
		"updatedAt":    report.UpdatedAt.Format(time.RFC3339),
	}
}

func commentItems(comments []ledger.Comment) []map[string]any {
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentItem(comment))
	}
	return items
}

func commentItem(comment ledger.Comment) map[string]any {
	var parentID any
	if comment.ParentID != nil {
		parentID = *comment.ParentID
	}
	item := map[string]any{
		"id":         comment.ID,
		"entityId":   comment.EntityID,
		"parentId":   parentID,
		"text":       comment.Text,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"createdAt":  comment.CreatedAt.Format(time.RFC3339),
	}
	if comment.EditedAt != nil {
		item["editedAt"] = comment.EditedAt.Format(time.RFC3339)
	}
	return item
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
