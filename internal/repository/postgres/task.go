package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

const taskColumns = `id, title, description, due_at, priority, status, linked_patient_id, linked_chat_id, created_by_worker_id, created_at, updated_at`

type TaskStore struct {
	db Querier
}

func NewTaskStore(db Querier) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.DueAt,
		&t.Priority,
		&t.Status,
		&t.LinkedPatientID,
		&t.LinkedChatID,
		&t.CreatedByWorkerID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TaskStore) Create(ctx context.Context, task models.Task) (*models.Task, error) {
	query := `
		INSERT INTO tasks (id, title, description, due_at, priority, status, linked_patient_id, linked_chat_id, created_by_worker_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING ` + taskColumns

	created, err := scanTask(s.db.QueryRow(ctx, query,
		uuid.New(),
		task.Title,
		task.Description,
		task.DueAt,
		task.Priority,
		task.Status,
		task.LinkedPatientID,
		task.LinkedChatID,
		task.CreatedByWorkerID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

// GetByID is owner-scoped: a task belonging to another worker behaves as if
// it does not exist.
func (s *TaskStore) GetByID(ctx context.Context, workerID, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND created_by_worker_id = $2`

	task, err := scanTask(s.db.QueryRow(ctx, query, id, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) List(ctx context.Context, workerID uuid.UUID, filter repository.TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE created_by_worker_id = $1`
	args := []any{workerID}

	addCond := func(column string, value any) {
		args = append(args, value)
		query += " AND " + column + " = $" + strconv.Itoa(len(args))
	}

	if filter.Status != nil {
		addCond("status", *filter.Status)
	}
	if filter.LinkedPatientID != nil {
		addCond("linked_patient_id", *filter.LinkedPatientID)
	}
	if filter.LinkedChatID != nil {
		addCond("linked_chat_id", *filter.LinkedChatID)
	}
	query += " ORDER BY due_at NULLS LAST, priority, created_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (s *TaskStore) Update(ctx context.Context, workerID, id uuid.UUID, upd repository.TaskUpdate) (*models.Task, error) {
	var sets []string
	var args []any

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Title != nil {
		addSet("title", *upd.Title)
	}
	if upd.Description != nil {
		addSet("description", *upd.Description)
	}
	if upd.SetDueAt {
		addSet("due_at", upd.DueAt)
	}
	if upd.Priority != nil {
		addSet("priority", *upd.Priority)
	}
	if upd.Status != nil {
		addSet("status", *upd.Status)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, workerID, id)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id, workerID)
	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $" + strconv.Itoa(len(args)-1) +
		" AND created_by_worker_id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + taskColumns

	task, err := scanTask(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) Delete(ctx context.Context, workerID, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND created_by_worker_id = $2`, id, workerID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
