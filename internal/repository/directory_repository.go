package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctoring/internal/model"
)

// DirectoryRepository reads users, courses, modules and enrolments from the
// LMS database. It answers the lookups the proctoring client needs to trust
// vendor records.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// User returns the user with the given ID, or nil if there is none.
func (r *DirectoryRepository) User(ctx context.Context, userID int) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, suspended, deleted, created_at
		 FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Suspended, &u.Deleted, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// UsersByIDs returns the users that exist among ids.
func (r *DirectoryRepository) UsersByIDs(ctx context.Context, ids []int) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, first_name, last_name, email, suspended, deleted, created_at
		 FROM users WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Suspended, &u.Deleted, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CourseExists reports whether the course exists.
func (r *DirectoryRepository) CourseExists(ctx context.Context, courseID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists)
	return exists, err
}

// ModuleCourse returns the course the module belongs to, or 0.
func (r *DirectoryRepository) ModuleCourse(ctx context.Context, moduleID int) (int, error) {
	var courseID int
	err := r.pool.QueryRow(ctx, `SELECT course_id FROM course_modules WHERE id = $1`, moduleID).Scan(&courseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return courseID, nil
}

// Module returns the module, or nil.
func (r *DirectoryRepository) Module(ctx context.Context, moduleID int) (*model.CourseModule, error) {
	m := &model.CourseModule{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, name, proctored FROM course_modules WHERE id = $1`, moduleID,
	).Scan(&m.ID, &m.CourseID, &m.Name, &m.Proctored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// IsEnrolled reports whether the user has an enrolment in the course. With
// onlyActive, suspended enrolments and enrolments outside their time window
// do not count.
func (r *DirectoryRepository) IsEnrolled(ctx context.Context, courseID, userID int, onlyActive bool) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM user_enrolments WHERE course_id = $1 AND user_id = $2`
	if onlyActive {
		query += ` AND status = 'active'
		   AND (time_start IS NULL OR time_start <= NOW())
		   AND (time_end IS NULL OR time_end > NOW())`
	}
	query += `)`

	var enrolled bool
	err := r.pool.QueryRow(ctx, query, courseID, userID).Scan(&enrolled)
	return enrolled, err
}

// EnrolledUserIDs lists the users enrolled in the course, active or not.
func (r *DirectoryRepository) EnrolledUserIDs(ctx context.Context, courseID int) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM user_enrolments WHERE course_id = $1 ORDER BY user_id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// CreateCourse inserts a course and fills in its id.
func (r *DirectoryRepository) CreateCourse(ctx context.Context, c *model.Course) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO courses (short_name, full_name, visible) VALUES ($1, $2, $3) RETURNING id, created_at`,
		c.ShortName, c.FullName, c.Visible,
	).Scan(&c.ID, &c.CreatedAt)
}

// CreateModule inserts a module into its course.
func (r *DirectoryRepository) CreateModule(ctx context.Context, m *model.CourseModule) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO course_modules (course_id, name, proctored) VALUES ($1, $2, $3) RETURNING id`,
		m.CourseID, m.Name, m.Proctored,
	).Scan(&m.ID)
}

// CreateUsers bulk-inserts users and returns the ids assigned to them in
// input order.
func (r *DirectoryRepository) CreateUsers(ctx context.Context, users []model.User) ([]int, error) {
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(
			`INSERT INTO users (first_name, last_name, email, suspended, deleted) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			u.FirstName, u.LastName, u.Email, u.Suspended, u.Deleted)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	ids := make([]int, 0, len(users))
	for range users {
		var id int
		if err := results.QueryRow().Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Enrol copies enrolments into user_enrolments.
func (r *DirectoryRepository) Enrol(ctx context.Context, enrolments []model.Enrolment) (int64, error) {
	rows := make([][]any, 0, len(enrolments))
	for _, e := range enrolments {
		rows = append(rows, []any{e.CourseID, e.UserID, string(e.Status), e.TimeStart, e.TimeEnd})
	}
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"user_enrolments"},
		[]string{"course_id", "user_id", "status", "time_start", "time_end"},
		pgx.CopyFromRows(rows),
	)
}
